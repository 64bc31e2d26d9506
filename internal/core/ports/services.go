package ports

import (
	"context"

	"overlaycast/internal/core/domain"
)

// LayoutSession is one editor or viewer attached to an event layout.
type LayoutSession interface {
	EventID() domain.EventID
	Role() domain.Role
	View() domain.View
	OnChange(fn func(domain.View))

	Add(t domain.ItemType, text string) (domain.WatermarkItem, error)
	Update(id domain.ItemID, patch domain.ItemPatch) (domain.WatermarkItem, error)
	Remove(id domain.ItemID) error
	RenameSource(name, email *string) error
	SetVideoEventID(videoEventID string) error

	Select(id domain.ItemID) error
	ClearSelection() error
	BeginDrag() error
	EndDrag(x, y *domain.Input) (domain.WatermarkItem, error)
	BeginResize() error
	EndResize(patch domain.ItemPatch) (domain.WatermarkItem, error)

	Flush(ctx context.Context) error
	Close()
}

type EventService interface {
	GetEvent(ctx context.Context, id domain.EventID) (*domain.EventDocument, error)
	RenderEvent(ctx context.Context, id domain.EventID, clientAddr string) (*domain.View, error)
	ListEvents(ctx context.Context) ([]domain.EventID, error)
	OpenSession(ctx context.Context, id domain.EventID, role domain.Role, clientAddr string) (LayoutSession, error)
}

// IPResolver supplies the address shown by ip items. It never fails; an
// address that cannot be determined is domain.IPUnavailable.
type IPResolver interface {
	Resolve(ctx context.Context, clientAddr string) string
}

// LayoutMetrics receives counters from layout sessions.
type LayoutMetrics interface {
	SessionOpened(role domain.Role)
	SessionClosed(role domain.Role)
	MutationApplied(op string)
	WriteFailed(op string)
	SnapshotApplied(role domain.Role)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SessionOpened(domain.Role)   {}
func (NopMetrics) SessionClosed(domain.Role)   {}
func (NopMetrics) MutationApplied(string)      {}
func (NopMetrics) WriteFailed(string)          {}
func (NopMetrics) SnapshotApplied(domain.Role) {}
