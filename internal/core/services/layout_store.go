package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/pkg/tracing"

	"go.uber.org/zap"
)

// LayoutStoreConfig tunes a single session.
type LayoutStoreConfig struct {
	Bounds domain.Bounds
	// WriteTimeout bounds each remote merge-write.
	WriteTimeout time.Duration
	// LoadTimeout is how long Load waits for the first snapshot. After it
	// the session shows default values and stays read-only until a snapshot
	// arrives.
	LoadTimeout time.Duration
}

func DefaultLayoutStoreConfig() LayoutStoreConfig {
	return LayoutStoreConfig{
		Bounds:       domain.DefaultBounds,
		WriteTimeout: 10 * time.Second,
		LoadTimeout:  5 * time.Second,
	}
}

type writeOp struct {
	op    string
	patch domain.EventPatch
}

// LayoutStore is the local cache of one event layout. Mutations apply locally
// first and are persisted by a background writer; every snapshot from the
// repository replaces local state wholesale. A snapshot that arrives while
// the session's own writes are pending is held back and applied once the
// writer catches up, so an echo of an older write cannot undo a newer local
// edit.
type LayoutStore struct {
	eventID   domain.EventID
	role      domain.Role
	ipAddress string
	repo      ports.EventRepository
	metrics   ports.LayoutMetrics
	logger    *zap.SugaredLogger
	cfg       LayoutStoreConfig

	mu          sync.Mutex
	doc         domain.EventDocument
	loaded      bool
	opened      bool
	closed      bool
	interaction *domain.Interaction
	listeners   []func(domain.View)

	// next is the newest write not yet handed to the repository. Every
	// write carries the full item list, so it replaces an older unsent one.
	next *writeOp
	// idle is non-nil while a write is pending and is closed once the
	// writer catches up.
	idle chan struct{}
	// deferred is the newest snapshot received while idle was non-nil.
	deferred *domain.EventDocument

	// notifyMu keeps listener calls in the order state changed.
	notifyMu sync.Mutex

	wake     chan struct{}
	stop     chan struct{}
	writerWG sync.WaitGroup
	cancel   context.CancelFunc
	watchWG  sync.WaitGroup
}

var _ ports.LayoutSession = (*LayoutStore)(nil)

func NewLayoutStore(
	eventID domain.EventID,
	role domain.Role,
	ipAddress string,
	repo ports.EventRepository,
	metrics ports.LayoutMetrics,
	logger *zap.SugaredLogger,
	cfg LayoutStoreConfig,
) *LayoutStore {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultLayoutStoreConfig().WriteTimeout
	}
	if ipAddress == "" {
		ipAddress = domain.IPUnavailable
	}

	s := &LayoutStore{
		eventID:     eventID,
		role:        role,
		ipAddress:   ipAddress,
		repo:        repo,
		metrics:     metrics,
		logger:      logger.With("event_id", eventID, "role", role),
		cfg:         cfg,
		doc:         domain.NewEventDocument("", "", ""),
		interaction: domain.NewInteraction(),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}

	s.writerWG.Add(1)
	go s.writeLoop()

	return s
}

func (s *LayoutStore) EventID() domain.EventID {
	return s.eventID
}

func (s *LayoutStore) Role() domain.Role {
	return s.role
}

// Load makes sure the document exists and subscribes to it. It returns after
// the first snapshot is applied, or after LoadTimeout. In the second case the
// view shows default values and mutations fail with ErrSessionNotLoaded until
// the first snapshot arrives.
func (s *LayoutStore) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.mu.Unlock()

	if _, err := s.repo.Get(ctx, s.eventID); err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			created, err := s.repo.CreateIfAbsent(ctx, s.eventID, domain.NewEventDocument("", "", ""))
			if err != nil {
				s.logger.Warnw("failed to create event document", "error", err)
			} else if created {
				s.logger.Infow("created event document")
			}
		} else {
			s.logger.Warnw("failed to read event document", "error", err)
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	snapshots, err := s.repo.Watch(watchCtx, s.eventID)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return domain.ErrSessionClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	first := make(chan struct{})
	s.watchWG.Add(1)
	go s.watchLoop(snapshots, first)

	timeout := s.cfg.LoadTimeout
	if timeout <= 0 {
		timeout = DefaultLayoutStoreConfig().LoadTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-first:
	case <-timer.C:
		s.logger.Warnw("no snapshot received, showing defaults", "timeout", timeout)
		s.notify()
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	s.metrics.SessionOpened(s.role)
	return nil
}

func (s *LayoutStore) watchLoop(snapshots <-chan domain.EventDocument, first chan struct{}) {
	defer s.watchWG.Done()

	signalled := false
	for doc := range snapshots {
		if s.applySnapshot(doc) {
			s.notify()
		}
		if !signalled {
			close(first)
			signalled = true
		}
	}
}

// applySnapshot reports whether doc replaced local state.
func (s *LayoutStore) applySnapshot(doc domain.EventDocument) bool {
	doc = domain.NormalizeDocument(doc, s.cfg.Bounds)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idle != nil {
		s.deferred = &doc
		return false
	}
	s.replaceLocked(doc)
	return true
}

func (s *LayoutStore) replaceLocked(doc domain.EventDocument) {
	s.doc = doc
	s.deferred = nil
	s.loaded = true
	if id, ok := s.interaction.Active(); ok {
		if _, exists := domain.FindItem(doc.Items, id); !exists {
			s.interaction.Forget(id)
		}
	}
	s.metrics.SnapshotApplied(s.role)
}

// OnChange registers fn to receive a rendered view after every change. fn
// must not call back into the store synchronously.
func (s *LayoutStore) OnChange(fn func(domain.View)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *LayoutStore) View() domain.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *LayoutStore) viewLocked() domain.View {
	src := domain.SourceData{Name: s.doc.Name, Email: s.doc.Email, IPAddress: s.ipAddress}
	view := domain.Render(s.eventID, s.role, s.doc, src, s.cfg.Bounds)
	if id, ok := s.interaction.Active(); ok {
		view.SelectedItemID = id
		view.Interaction = s.interaction.State()
	} else {
		view.Interaction = domain.StateIdle
	}
	return view
}

func (s *LayoutStore) notify() {
	s.mu.Lock()
	view := s.viewLocked()
	listeners := make([]func(domain.View), len(s.listeners))
	copy(listeners, s.listeners)
	s.notifyMu.Lock()
	s.mu.Unlock()

	defer s.notifyMu.Unlock()
	for _, fn := range listeners {
		fn(view)
	}
}

// Items returns a copy of the local item list.
func (s *LayoutStore) Items() []domain.WatermarkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone().Items
}

func (s *LayoutStore) SelectedItemID() (domain.ItemID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interaction.Active()
}

func (s *LayoutStore) checkLocked(editing bool) error {
	if s.closed {
		return domain.ErrSessionClosed
	}
	if !s.loaded {
		return domain.ErrSessionNotLoaded
	}
	if editing && !s.role.CanEdit() {
		return domain.ErrReadOnlySession
	}
	return nil
}

// commitLocked hands the current items and source fields to the writer. It
// never blocks.
func (s *LayoutStore) commitLocked(op string, withVideo bool) {
	patch := s.doc.Patch()
	if !withVideo && (s.next == nil || s.next.patch.VimeoEventID == nil) {
		patch.VimeoEventID = nil
	}
	s.next = &writeOp{op: op, patch: patch}
	if s.idle == nil {
		s.idle = make(chan struct{})
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.metrics.MutationApplied(op)
}

func (s *LayoutStore) Add(t domain.ItemType, text string) (domain.WatermarkItem, error) {
	s.mu.Lock()
	if err := s.checkLocked(true); err != nil {
		s.mu.Unlock()
		return domain.WatermarkItem{}, err
	}

	item := domain.Clamp(domain.NewItem(t, text), s.cfg.Bounds)
	s.doc.Items = append(s.doc.Items, item)
	if err := s.interaction.PointerDown(item.ID); err != nil {
		s.logger.Debugw("new item not selected", "item_id", item.ID, "error", err)
	}
	s.commitLocked("add", false)
	s.mu.Unlock()

	s.notify()
	return item, nil
}

func (s *LayoutStore) Update(id domain.ItemID, patch domain.ItemPatch) (domain.WatermarkItem, error) {
	s.mu.Lock()
	item, err := s.updateLocked(id, patch, "update")
	s.mu.Unlock()
	if err != nil {
		return domain.WatermarkItem{}, err
	}

	s.notify()
	return item, nil
}

func (s *LayoutStore) updateLocked(id domain.ItemID, patch domain.ItemPatch, op string) (domain.WatermarkItem, error) {
	if err := s.checkLocked(true); err != nil {
		return domain.WatermarkItem{}, err
	}
	if s.interaction.ItemState(id) == domain.StateRemoved {
		return domain.WatermarkItem{}, domain.ErrItemRemoved
	}

	for i := range s.doc.Items {
		if s.doc.Items[i].ID != id {
			continue
		}
		updated := domain.ApplyPatch(s.doc.Items[i], patch, s.cfg.Bounds)
		s.doc.Items[i] = updated
		s.commitLocked(op, false)
		return updated, nil
	}
	return domain.WatermarkItem{}, domain.ErrItemNotFound
}

// Remove deletes id and clears the selection if it pointed at id. Unknown ids
// are ignored.
func (s *LayoutStore) Remove(id domain.ItemID) error {
	s.mu.Lock()
	if err := s.checkLocked(true); err != nil {
		s.mu.Unlock()
		return err
	}

	s.interaction.Remove(id)
	if _, exists := domain.FindItem(s.doc.Items, id); !exists {
		s.mu.Unlock()
		return nil
	}
	s.doc.Items = domain.RemoveItem(s.doc.Items, id)
	s.commitLocked("remove", false)
	s.mu.Unlock()

	s.notify()
	return nil
}

// RenameSource edits the name and email shown by name and email items. Nil
// arguments keep the current value.
func (s *LayoutStore) RenameSource(name, email *string) error {
	s.mu.Lock()
	if err := s.checkLocked(true); err != nil {
		s.mu.Unlock()
		return err
	}

	if name != nil {
		s.doc.Name = *name
	}
	if email != nil {
		s.doc.Email = *email
	}
	s.commitLocked("rename_source", false)
	s.mu.Unlock()

	s.notify()
	return nil
}

// SetVideoEventID points the embedded player at another live event. The
// layout document itself stays keyed by the session's event id.
func (s *LayoutStore) SetVideoEventID(videoEventID string) error {
	s.mu.Lock()
	if err := s.checkLocked(true); err != nil {
		s.mu.Unlock()
		return err
	}

	s.doc.VimeoEventID = videoEventID
	s.commitLocked("set_video", true)
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *LayoutStore) Select(id domain.ItemID) error {
	s.mu.Lock()
	if err := s.checkLocked(true); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.interaction.ItemState(id) != domain.StateRemoved {
		if _, exists := domain.FindItem(s.doc.Items, id); !exists {
			s.mu.Unlock()
			return domain.ErrItemNotFound
		}
	}
	if err := s.interaction.PointerDown(id); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// ClearSelection handles a click on the empty container.
func (s *LayoutStore) ClearSelection() error {
	s.mu.Lock()
	if err := s.checkLocked(true); err != nil {
		s.mu.Unlock()
		return err
	}
	s.interaction.Background()
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *LayoutStore) BeginDrag() error {
	return s.begin(s.interaction.BeginDrag)
}

func (s *LayoutStore) BeginResize() error {
	return s.begin(s.interaction.BeginResize)
}

func (s *LayoutStore) begin(transition func() error) error {
	s.mu.Lock()
	if err := s.checkLocked(true); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := transition(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// EndDrag commits the final position of the dragged item.
func (s *LayoutStore) EndDrag(x, y *domain.Input) (domain.WatermarkItem, error) {
	return s.end(domain.StateDragging, domain.ItemPatch{X: x, Y: y}, "drag")
}

// EndResize commits the final box of the resized item. A changed height also
// changes the font size.
func (s *LayoutStore) EndResize(patch domain.ItemPatch) (domain.WatermarkItem, error) {
	return s.end(domain.StateResizing, domain.ItemPatch{
		X:      patch.X,
		Y:      patch.Y,
		Width:  patch.Width,
		Height: patch.Height,
	}, "resize")
}

func (s *LayoutStore) end(gesture domain.InteractionState, patch domain.ItemPatch, op string) (domain.WatermarkItem, error) {
	s.mu.Lock()
	if err := s.checkLocked(true); err != nil {
		s.mu.Unlock()
		return domain.WatermarkItem{}, err
	}
	if s.interaction.State() != gesture {
		s.mu.Unlock()
		return domain.WatermarkItem{}, domain.ErrInvalidTransition
	}
	id, _, err := s.interaction.End()
	if err != nil {
		s.mu.Unlock()
		return domain.WatermarkItem{}, err
	}
	item, err := s.updateLocked(id, patch, op)
	s.mu.Unlock()
	if err != nil {
		return domain.WatermarkItem{}, err
	}

	s.notify()
	return item, nil
}

func (s *LayoutStore) writeLoop() {
	defer s.writerWG.Done()

	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.stop:
			s.drain()
			return
		}
	}
}

// drain persists pending writes until none is left, then applies a snapshot
// held back in the meantime.
func (s *LayoutStore) drain() {
	for {
		s.mu.Lock()
		w := s.next
		s.next = nil
		if w != nil {
			s.mu.Unlock()
			s.persist(*w)
			continue
		}

		if s.idle != nil {
			close(s.idle)
			s.idle = nil
		}
		changed := false
		if s.deferred != nil && !s.closed {
			s.replaceLocked(*s.deferred)
			changed = true
		}
		s.deferred = nil
		s.mu.Unlock()

		if changed {
			s.notify()
		}
		return
	}
}

func (s *LayoutStore) persist(w writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	ctx, span := tracing.TraceLayoutWrite(ctx, w.op, string(s.eventID))
	defer span.End()

	if err := s.repo.MergeWrite(ctx, s.eventID, w.patch); err != nil {
		tracing.RecordError(ctx, err)
		s.metrics.WriteFailed(w.op)
		s.logger.Errorw("failed to persist layout", "op", w.op, "error", err)
	}
}

// Flush waits until every pending write has been attempted.
func (s *LayoutStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	if idle == nil {
		return nil
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetIPAddress changes the address shown by ip items.
func (s *LayoutStore) SetIPAddress(ip string) {
	s.mu.Lock()
	if s.closed || s.ipAddress == ip {
		s.mu.Unlock()
		return
	}
	s.ipAddress = ip
	s.mu.Unlock()

	s.notify()
}

// Close stops the subscription. Pending writes are still attempted.
func (s *LayoutStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	opened := s.opened
	cancel := s.cancel
	close(s.stop)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.watchWG.Wait()
	s.writerWG.Wait()

	if opened {
		s.metrics.SessionClosed(s.role)
	}
}
