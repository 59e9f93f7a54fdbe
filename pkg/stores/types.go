package stores

import (
	"context"
	"time"

	"github.com/iotistic/supervisor/pkg/engine"
)

// PassRecord is one row of reconciliation pass history.
type PassRecord struct {
	ID          int64         `json:"id"`
	PassID      string        `json:"pass_id"`
	Kind        engine.Kind   `json:"kind"`
	Success     bool          `json:"success"`
	Added       int           `json:"added"`
	Updated     int           `json:"updated"`
	Removed     int           `json:"removed"`
	Errors      string        `json:"errors,omitempty"` // JSON array of step errors
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Store defines the persistence layer interface. It extends the engine's
// StateStore contract with lifecycle management and pass history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Snapshot operations (engine.StateStore)
	Load(ctx context.Context, kind engine.Kind) (*engine.Snapshot, error)
	Save(ctx context.Context, snap *engine.Snapshot) error

	// Pass history operations
	RecordPass(ctx context.Context, kind engine.Kind, result *engine.Result) error
	ListPasses(ctx context.Context, kind engine.Kind, limit int) ([]*PassRecord, error)
	PrunePasses(ctx context.Context, keep int) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
