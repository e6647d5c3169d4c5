package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
)

// memRepo is an in-memory Repository used by tests and dry runs.
type memRepo struct {
	mu          sync.Mutex
	extractions map[string]map[model.SessionID]*model.ExtractionRecord
	memories    map[string]*model.ConsolidatedMemory
	generated   map[string]map[string][]byte
	locks       map[string]bool
}

// NewMemory creates an in-memory repository. Nothing is persisted.
func NewMemory() Repository {
	return &memRepo{
		extractions: make(map[string]map[model.SessionID]*model.ExtractionRecord),
		memories:    make(map[string]*model.ConsolidatedMemory),
		generated:   make(map[string]map[string][]byte),
		locks:       make(map[string]bool),
	}
}

func (r *memRepo) PutExtraction(ctx context.Context, record *model.ExtractionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.extractions[record.Project] == nil {
		r.extractions[record.Project] = make(map[model.SessionID]*model.ExtractionRecord)
	}
	r.extractions[record.Project][record.SessionID] = record
	return nil
}

func (r *memRepo) GetExtraction(ctx context.Context, project string, id model.SessionID) (*model.ExtractionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.extractions[project][id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "extraction record does not exist",
			goerr.V("project", project), goerr.V("session_id", id))
	}
	return record, nil
}

func (r *memRepo) ListExtractions(ctx context.Context, project string) ([]*model.ExtractionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var records []*model.ExtractionRecord
	for _, record := range r.extractions[project] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].ExtractedAt.Equal(records[j].ExtractedAt) {
			return records[i].SessionID < records[j].SessionID
		}
		return records[i].ExtractedAt.Before(records[j].ExtractedAt)
	})
	return records, nil
}

func (r *memRepo) GetMemory(ctx context.Context, project string) (*model.ConsolidatedMemory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	memory, ok := r.memories[project]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "no consolidated memory for project",
			goerr.V("project", project))
	}
	return memory, nil
}

func (r *memRepo) PutMemory(ctx context.Context, memory *model.ConsolidatedMemory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memories[memory.Project] = memory
	return nil
}

func (r *memRepo) PutGenerated(ctx context.Context, project, name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generated[project] == nil {
		r.generated[project] = make(map[string][]byte)
	}
	r.generated[project][name] = data
	return nil
}

func (r *memRepo) GetGenerated(ctx context.Context, project, name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.generated[project][name]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "generated artifact does not exist",
			goerr.V("project", project), goerr.V("name", name))
	}
	return data, nil
}

func (r *memRepo) ListGenerated(ctx context.Context, project string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for name := range r.generated[project] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *memRepo) Lock(ctx context.Context, project string) (func() error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks[project] {
		return nil, goerr.Wrap(model.ErrLocked, "another consolidation run holds the lock",
			goerr.V("project", project))
	}
	r.locks[project] = true
	return func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.locks, project)
		return nil
	}, nil
}

var (
	_ Repository = (*fsRepo)(nil)
	_ Repository = (*memRepo)(nil)
)
