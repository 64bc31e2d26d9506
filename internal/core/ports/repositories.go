package ports

import (
	"context"

	"overlaycast/internal/core/domain"
)

// EventRepository is the remote document store holding one layout document
// per event.
type EventRepository interface {
	// Get is a one-shot read. Missing documents yield domain.ErrEventNotFound.
	Get(ctx context.Context, id domain.EventID) (*domain.EventDocument, error)
	// CreateIfAbsent writes doc only when no document exists yet. created is
	// false when another writer got there first.
	CreateIfAbsent(ctx context.Context, id domain.EventID, doc domain.EventDocument) (created bool, err error)
	// MergeWrite stores the fields present in patch and preserves the others.
	MergeWrite(ctx context.Context, id domain.EventID, patch domain.EventPatch) error
	// Watch delivers the current document and then every change until ctx is
	// done, at which point the channel is closed. Intermediate snapshots may be
	// coalesced; the latest one is always delivered.
	Watch(ctx context.Context, id domain.EventID) (<-chan domain.EventDocument, error)
	List(ctx context.Context) ([]domain.EventID, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
