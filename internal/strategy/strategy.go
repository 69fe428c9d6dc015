// Package strategy holds declarative strategy definitions and the backtester
// that simulates them over historical bars.
package strategy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"strategylab/internal/domain"
	"strategylab/internal/rules"
)

// Registry holds strategy definitions keyed by ID.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]domain.Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]domain.Strategy),
	}
}

// Register validates s and adds it to the registry, replacing any existing
// definition with the same ID.
func (r *Registry) Register(s domain.Strategy) error {
	if err := Validate(s); err != nil {
		return err
	}
	r.mu.Lock()
	r.strategies[s.ID] = s
	r.mu.Unlock()
	return nil
}

// Get retrieves a strategy by ID. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(id string) (domain.Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	return s, ok
}

// GetStrategy is Get with a domain.ErrNotFound error for unknown IDs.
func (r *Registry) GetStrategy(_ context.Context, id string) (domain.Strategy, error) {
	s, ok := r.Get(id)
	if !ok {
		return domain.Strategy{}, fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

// List returns a sorted slice of all registered strategy IDs.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Strategies returns every registered definition ordered by ID.
func (r *Registry) Strategies() []domain.Strategy {
	ids := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Strategy, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.strategies[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that s has an ID and that its rule sets compile. Malformed
// individual conditions are not rejected here.
func Validate(s domain.Strategy) error {
	if s.ID == "" {
		return fmt.Errorf("strategy has no id: %w", domain.ErrInvalidRule)
	}
	if _, err := rules.Compile(s.Entry); err != nil {
		return fmt.Errorf("strategy %s entry: %w", s.ID, err)
	}
	if _, err := rules.CompileAll(s.Exits); err != nil {
		return fmt.Errorf("strategy %s exits: %w", s.ID, err)
	}
	if s.Timeframe != "" {
		if _, err := domain.ParseTimeframe(s.Timeframe); err != nil {
			return fmt.Errorf("strategy %s: %w", s.ID, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Strategies file
// ---------------------------------------------------------------------------

// File is the on-disk layout of a strategies YAML file.
type File struct {
	Strategies []domain.Strategy `yaml:"strategies"`
}

// LoadFile reads strategy definitions from a YAML file.
func LoadFile(path string) ([]domain.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f.Strategies, nil
}

// LoadInto reads path and registers every strategy it defines.
func (r *Registry) LoadInto(path string) (int, error) {
	list, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	for _, s := range list {
		if err := r.Register(s); err != nil {
			return 0, err
		}
	}
	return len(list), nil
}
