package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/pkg/validation"

	"go.uber.org/zap"
)

// ipLookupTimeout bounds the background address lookup of a session.
const ipLookupTimeout = 10 * time.Second

type eventService struct {
	repo     ports.EventRepository
	resolver ports.IPResolver
	metrics  ports.LayoutMetrics
	logger   *zap.SugaredLogger
	cfg      LayoutStoreConfig

	mu       sync.Mutex
	sessions map[*LayoutStore]struct{}
}

// EventService opens layout sessions and serves one-shot reads. It keeps track
// of open sessions so pending writes can be flushed on shutdown.
type EventService interface {
	ports.EventService
	Shutdown(ctx context.Context) error
}

func NewEventService(
	repo ports.EventRepository,
	resolver ports.IPResolver,
	metrics ports.LayoutMetrics,
	logger *zap.SugaredLogger,
	cfg LayoutStoreConfig,
) EventService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &eventService{
		repo:     repo,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		sessions: make(map[*LayoutStore]struct{}),
	}
}

func (s *eventService) GetEvent(ctx context.Context, id domain.EventID) (*domain.EventDocument, error) {
	if err := validation.ValidateEventID(string(id)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEventID, err)
	}

	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	normalized := domain.NormalizeDocument(*doc, s.cfg.Bounds)
	return &normalized, nil
}

// RenderEvent returns the layout as a viewer would see it right now.
func (s *eventService) RenderEvent(ctx context.Context, id domain.EventID, clientAddr string) (*domain.View, error) {
	doc, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	src := domain.SourceData{
		Name:      doc.Name,
		Email:     doc.Email,
		IPAddress: s.resolveIP(ctx, clientAddr),
	}
	view := domain.Render(id, domain.RoleViewer, *doc, src, s.cfg.Bounds)
	view.Interaction = domain.StateIdle
	return &view, nil
}

func (s *eventService) ListEvents(ctx context.Context) ([]domain.EventID, error) {
	return s.repo.List(ctx)
}

// OpenSession creates and loads a layout session. The caller must Close it.
// The client address is resolved in the background; until then ip items show
// domain.IPPending.
func (s *eventService) OpenSession(ctx context.Context, id domain.EventID, role domain.Role, clientAddr string) (ports.LayoutSession, error) {
	if err := validation.ValidateEventID(string(id)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEventID, err)
	}
	if role != domain.RoleEditor && role != domain.RoleViewer {
		return nil, fmt.Errorf("unknown role: %s", role)
	}

	store := NewLayoutStore(id, role, domain.IPPending, s.repo, s.metrics, s.logger, s.cfg)
	go s.lookupIP(context.WithoutCancel(ctx), store, clientAddr)

	if err := store.Load(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}

	s.mu.Lock()
	s.sessions[store] = struct{}{}
	s.mu.Unlock()

	return &trackedSession{LayoutStore: store, service: s}, nil
}

func (s *eventService) resolveIP(ctx context.Context, clientAddr string) string {
	if s.resolver == nil {
		return domain.IPUnavailable
	}
	return s.resolver.Resolve(ctx, clientAddr)
}

func (s *eventService) lookupIP(ctx context.Context, store *LayoutStore, clientAddr string) {
	ctx, cancel := context.WithTimeout(ctx, ipLookupTimeout)
	defer cancel()
	store.SetIPAddress(s.resolveIP(ctx, clientAddr))
}

func (s *eventService) release(store *LayoutStore) {
	s.mu.Lock()
	delete(s.sessions, store)
	s.mu.Unlock()
}

// Shutdown flushes and closes every open session.
func (s *eventService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	stores := make([]*LayoutStore, 0, len(s.sessions))
	for store := range s.sessions {
		stores = append(stores, store)
	}
	s.sessions = make(map[*LayoutStore]struct{})
	s.mu.Unlock()

	var firstErr error
	for _, store := range stores {
		if err := store.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		store.Close()
	}
	return firstErr
}

// trackedSession unregisters itself from the service on Close.
type trackedSession struct {
	*LayoutStore
	service *eventService
	once    sync.Once
}

func (t *trackedSession) Close() {
	t.once.Do(func() {
		t.service.release(t.LayoutStore)
		t.LayoutStore.Close()
	})
}
