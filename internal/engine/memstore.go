package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/store"
)

// memoryRuns is a RunStore kept in process memory.
type memoryRuns struct {
	mu      sync.RWMutex
	runs    map[string]domain.BacktestRun
	results map[string]*domain.BacktestResult
}

// NewMemoryRunStore returns a RunStore that keeps runs in memory, for tools
// that do not need persistence.
func NewMemoryRunStore() store.RunStore {
	return &memoryRuns{
		runs:    make(map[string]domain.BacktestRun),
		results: make(map[string]*domain.BacktestResult),
	}
}

func (m *memoryRuns) CreateRun(_ context.Context, run *domain.BacktestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memoryRuns) UpdateRunStatus(_ context.Context, id string, status domain.RunStatus, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	run.Status = status
	run.Error = errMsg
	switch status {
	case domain.RunRunning:
		run.StartedAt = at
	case domain.RunCompleted, domain.RunFailed:
		run.CompletedAt = at
	}
	m.runs[id] = run
	return nil
}

func (m *memoryRuns) GetRun(_ context.Context, id string) (*domain.BacktestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return &run, nil
}

func (m *memoryRuns) ListRuns(_ context.Context, strategyID string, limit int) ([]domain.BacktestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.BacktestRun
	for _, run := range m.runs {
		if strategyID == "" || run.StrategyID == strategyID {
			out = append(out, run)
		}
	}
	sortRuns(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRuns) SaveResult(_ context.Context, runID string, res *domain.BacktestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[runID] = res
	return nil
}

func (m *memoryRuns) GetResult(_ context.Context, runID string) (*domain.BacktestResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[runID]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", runID, domain.ErrNotFound)
	}
	return res, nil
}

func sortRuns(runs []domain.BacktestRun) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
