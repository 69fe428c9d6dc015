package gather

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"strategylab/internal/domain"
)

const progressFile = "progress.json"

// backfillKey identifies one (timeframe, range) backfill, e.g.
// "1d:2024-01-01..2024-06-30".
func backfillKey(tf domain.Timeframe, r DateRange) string {
	return fmt.Sprintf("%s:%s..%s", tf, r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

// backfillState is the persisted state of one backfill.
type backfillState struct {
	Timeframe   domain.Timeframe `json:"timeframe"`
	Start       string           `json:"start"`
	End         string           `json:"end"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	// Empty lists symbols that returned no bars for the range.
	Empty []string `json:"empty,omitempty"`

	empty map[string]struct{}
}

// progress persists backfill state for every timeframe and range gathered
// into one market. Backfills are independent: completing or resetting one
// leaves the others untouched. Every change rewrites the file atomically.
type progress struct {
	mu        sync.Mutex
	path      string
	backfills map[string]*backfillState
}

// loadProgress reads dir/progress.json, creating dir when needed. A missing
// file yields empty progress.
func loadProgress(dir string) (*progress, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	p := &progress{
		path:      filepath.Join(dir, progressFile),
		backfills: make(map[string]*backfillState),
	}

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", progressFile, err)
	}
	if err := json.Unmarshal(data, &p.backfills); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", progressFile, err)
	}
	for _, st := range p.backfills {
		st.empty = make(map[string]struct{}, len(st.Empty))
		for _, sym := range st.Empty {
			st.empty[sym] = struct{}{}
		}
	}
	return p, nil
}

// state returns the entry for (tf, r), creating it when absent. Callers hold mu.
func (p *progress) state(tf domain.Timeframe, r DateRange) *backfillState {
	key := backfillKey(tf, r)
	st, ok := p.backfills[key]
	if !ok {
		st = &backfillState{
			Timeframe: tf,
			Start:     r.Start.Format(time.DateOnly),
			End:       r.End.Format(time.DateOnly),
			empty:     make(map[string]struct{}),
		}
		p.backfills[key] = st
	}
	return st
}

// IsEmpty reports whether symbol already returned no bars for (tf, r).
func (p *progress) IsEmpty(tf domain.Timeframe, r DateRange, symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.backfills[backfillKey(tf, r)]
	if !ok {
		return false
	}
	_, empty := st.empty[symbol]
	return empty
}

// MarkEmpty records symbols that returned no bars for (tf, r).
func (p *progress) MarkEmpty(tf domain.Timeframe, r DateRange, symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(tf, r)
	added := false
	for _, sym := range symbols {
		if _, ok := st.empty[sym]; ok {
			continue
		}
		st.empty[sym] = struct{}{}
		added = true
	}
	if !added {
		return nil
	}
	st.Empty = st.Empty[:0]
	for sym := range st.empty {
		st.Empty = append(st.Empty, sym)
	}
	sort.Strings(st.Empty)
	return p.save()
}

// MarkCompleted stamps (tf, r) as fully gathered at the given time.
func (p *progress) MarkCompleted(tf domain.Timeframe, r DateRange, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	at = at.UTC()
	p.state(tf, r).CompletedAt = &at
	return p.save()
}

// IsCompleted reports whether (tf, r) was fully gathered.
func (p *progress) IsCompleted(tf domain.Timeframe, r DateRange) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.backfills[backfillKey(tf, r)]
	return ok && st.CompletedAt != nil
}

// Reset forgets (tf, r) so the next pass re-requests every symbol.
func (p *progress) Reset(tf domain.Timeframe, r DateRange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := backfillKey(tf, r)
	if _, ok := p.backfills[key]; !ok {
		return nil
	}
	delete(p.backfills, key)
	return p.save()
}

// save writes the state through a temp file and rename. Callers hold mu.
func (p *progress) save() error {
	data, err := json.MarshalIndent(p.backfills, "", "  ")
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", progressFile, err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("replacing %s: %w", progressFile, err)
	}
	return nil
}
