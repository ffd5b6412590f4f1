package storage

import (
	"context"

	"noesis/internal/model"
)

// Store persists engine snapshots and event history, keyed by run id.
type Store interface {
	Init(ctx context.Context) error
	SaveSnapshot(ctx context.Context, runID string, snapshot model.Snapshot) error
	GetSnapshot(ctx context.Context, runID string) (model.Snapshot, bool, error)
	ListSnapshots(ctx context.Context, runID string, limit int) ([]model.Snapshot, error)
	SaveEvents(ctx context.Context, runID string, events []model.SingularityEvent) error
	GetEvents(ctx context.Context, runID string) ([]model.SingularityEvent, bool, error)
}

// Resetter is implemented by stores that can drop all persisted state.
type Resetter interface {
	Reset(ctx context.Context) error
}

// CloseIfSupported closes stores that hold external resources.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
