package repository

import (
	"context"

	"github.com/m-mizutani/recall/pkg/model"
)

// Repository defines persistence for the memory pipeline. Extraction
// records and generated artifacts are immutable per-session/per-run
// outputs; the consolidated memory snapshot is the single resource
// requiring mutual exclusion, guarded by Lock.
type Repository interface {
	// PutExtraction saves one extraction record, superseding any prior
	// record for the same session.
	PutExtraction(ctx context.Context, record *model.ExtractionRecord) error

	// GetExtraction retrieves a record by project and session id.
	// Returns model.ErrNotFound if the session was never extracted.
	GetExtraction(ctx context.Context, project string, id model.SessionID) (*model.ExtractionRecord, error)

	// ListExtractions retrieves all records for a project, ordered by
	// extraction time.
	ListExtractions(ctx context.Context, project string) ([]*model.ExtractionRecord, error)

	// GetMemory retrieves the current consolidated memory snapshot.
	// Returns model.ErrNotFound before the first consolidation.
	GetMemory(ctx context.Context, project string) (*model.ConsolidatedMemory, error)

	// PutMemory persists a new snapshot version atomically, archiving
	// the prior version into the project's history.
	PutMemory(ctx context.Context, memory *model.ConsolidatedMemory) error

	// PutGenerated writes one generated artifact file. Name may contain
	// subdirectories such as "skills/deploy.md".
	PutGenerated(ctx context.Context, project, name string, data []byte) error

	// GetGenerated reads back a generated artifact file.
	GetGenerated(ctx context.Context, project, name string) ([]byte, error)

	// ListGenerated lists generated artifact names for a project.
	ListGenerated(ctx context.Context, project string) ([]string, error)

	// Lock acquires the project's single-writer lock for consolidation.
	// Returns model.ErrLocked when another run holds it.
	Lock(ctx context.Context, project string) (func() error, error)
}
