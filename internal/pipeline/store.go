package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/flow"
	"etlpulse/internal/summary"
)

// RunRecord is the persisted view of a run: everything but the table
type RunRecord struct {
	RunID       string           `json:"run_id"`
	Source      string           `json:"source"`
	Fingerprint string           `json:"fingerprint"`
	State       flow.RunState    `json:"state"`
	FailedStage flow.NodeID      `json:"failed_stage,omitempty"`
	Error       string           `json:"error,omitempty"`
	Rows        int              `json:"rows"`
	Columns     int              `json:"columns"`
	Cached      bool             `json:"cached"`
	Summary     *summary.Summary `json:"summary,omitempty"`
	Report      *Report          `json:"report,omitempty"`
	Flow        flow.Status      `json:"flow"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ListFilter narrows ListRuns
type ListFilter struct {
	State flow.RunState
	Since time.Time
	Limit int
}

func (f ListFilter) match(rec *RunRecord) bool {
	if f.State != "" && rec.State != f.State {
		return false
	}
	if !f.Since.IsZero() && rec.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Store persists run records
type Store interface {
	// SaveRun inserts or replaces the record with the same run ID
	SaveRun(ctx context.Context, rec *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	// ListRuns returns matching records, newest first
	ListRuns(ctx context.Context, filter ListFilter) ([]*RunRecord, error)
	DeleteRun(ctx context.Context, runID string) error
	Close() error
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

// NewMemoryStore creates a new in-memory run store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*RunRecord)}
}

// SaveRun stores a copy of rec
func (s *MemoryStore) SaveRun(_ context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return apperrors.NewStorageError("run record without run ID", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	s.runs[rec.RunID] = &recCopy
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryStore) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.runs[runID]
	if !exists {
		return nil, apperrors.NewNotFoundError("run " + runID)
	}
	// Return a copy to prevent external modification
	recCopy := *rec
	return &recCopy, nil
}

// ListRuns returns runs matching the filter, newest first
func (s *MemoryStore) ListRuns(_ context.Context, filter ListFilter) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		if !filter.match(rec) {
			continue
		}
		recCopy := *rec
		result = append(result, &recCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].RunID < result[j].RunID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// DeleteRun removes a run from the store
func (s *MemoryStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[runID]; !exists {
		return apperrors.NewNotFoundError("run " + runID)
	}
	delete(s.runs, runID)
	return nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error { return nil }
