package memory

import (
	"context"
	"sort"
	"sync"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
)

type subscriber struct {
	ch chan domain.EventDocument
}

// deliver replaces any undelivered snapshot with doc.
func (s *subscriber) deliver(doc domain.EventDocument) {
	for {
		select {
		case s.ch <- doc:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

type MemoryEventRepository struct {
	events      map[domain.EventID]domain.EventDocument
	subscribers map[domain.EventID]map[*subscriber]struct{}
	closed      bool
	mu          sync.Mutex
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{
		events:      make(map[domain.EventID]domain.EventDocument),
		subscribers: make(map[domain.EventID]map[*subscriber]struct{}),
	}
}

var _ ports.EventRepository = (*MemoryEventRepository)(nil)

func (r *MemoryEventRepository) Get(ctx context.Context, id domain.EventID) (*domain.EventDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, exists := r.events[id]
	if !exists {
		return nil, domain.ErrEventNotFound
	}
	out := doc.Clone()
	return &out, nil
}

func (r *MemoryEventRepository) CreateIfAbsent(ctx context.Context, id domain.EventID, doc domain.EventDocument) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[id]; exists {
		return false, nil
	}
	r.events[id] = doc.Clone()
	r.notifyLocked(id)
	return true, nil
}

func (r *MemoryEventRepository) MergeWrite(ctx context.Context, id domain.EventID, patch domain.EventPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[id] = patch.ApplyTo(r.events[id])
	r.notifyLocked(id)
	return nil
}

func (r *MemoryEventRepository) Watch(ctx context.Context, id domain.EventID) (<-chan domain.EventDocument, error) {
	sub := &subscriber{ch: make(chan domain.EventDocument, 1)}

	r.mu.Lock()
	if r.subscribers[id] == nil {
		r.subscribers[id] = make(map[*subscriber]struct{})
	}
	r.subscribers[id][sub] = struct{}{}
	if doc, exists := r.events[id]; exists {
		sub.deliver(doc.Clone())
	}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		if subs, ok := r.subscribers[id]; ok {
			if _, ok := subs[sub]; ok {
				delete(subs, sub)
				close(sub.ch)
			}
			if len(subs) == 0 {
				delete(r.subscribers, id)
			}
		}
	}()

	return sub.ch, nil
}

func (r *MemoryEventRepository) notifyLocked(id domain.EventID) {
	doc := r.events[id]
	for sub := range r.subscribers[id] {
		sub.deliver(doc.Clone())
	}
}

func (r *MemoryEventRepository) List(ctx context.Context) ([]domain.EventID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]domain.EventID, 0, len(r.events))
	for id := range r.events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MemoryEventRepository) HealthCheck(ctx context.Context) error {
	return nil
}

// Close ends every open watch.
func (r *MemoryEventRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	for id, subs := range r.subscribers {
		for sub := range subs {
			close(sub.ch)
		}
		delete(r.subscribers, id)
	}
	return nil
}
