package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/cascade/pkg/models"
)

// RunStore handles run history persistence operations.
type RunStore interface {
	CreateRun(r *Run) error
	FinishRun(r *Run, records []models.ResultRecord) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	GetResults(runID string) ([]models.ResultRecord, error)
	DeleteRun(id string) error
	PurgeOldRuns(olderThan time.Duration) (int64, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
// The CLI depends on it rather than on the SQLite implementation.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
)
