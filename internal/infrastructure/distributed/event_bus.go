package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"overlaycast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventLayoutCreated EventType = "layout.created"
	EventLayoutChanged EventType = "layout.changed"
)

// Event tells subscribers that a stored layout changed. It carries no state;
// subscribers re-read the document.
type Event struct {
	Type       EventType      `json:"type"`
	InstanceID string         `json:"instance_id"`
	Timestamp  time.Time      `json:"timestamp"`
	EventID    domain.EventID `json:"event_id"`
	Fields     []string       `json:"fields,omitempty"`
}

// EventBus fans out layout change notifications between instances over Redis
// pub/sub. Each event id has its own channel. Within one instance all
// subscribers of an event share a single Redis subscription.
type EventBus struct {
	client     *redis.Client
	instanceID string
	prefix     string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	topics map[domain.EventID]*topic
	nextID uint64
}

// topic is the shared subscription of one event id.
type topic struct {
	handlers map[uint64]func(*Event)
	cancel   context.CancelFunc
	// ready is closed once Redis confirmed the subscription or err is set.
	ready chan struct{}
	err   error
}

func NewEventBus(client *redis.Client, instanceID, prefix string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		prefix:     prefix,
		logger:     logger,
		topics:     make(map[domain.EventID]*topic),
	}
}

// Channel returns the pub/sub channel of an event.
func (eb *EventBus) Channel(id domain.EventID) string {
	return eb.prefix + "event:" + string(id) + ":changes"
}

// Publish publishes an event to the channel of event.EventID
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.Channel(event.EventID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"event_id", event.EventID,
		"fields", event.Fields,
	)

	return nil
}

func (eb *EventBus) PublishLayoutCreated(ctx context.Context, id domain.EventID) error {
	return eb.Publish(ctx, &Event{Type: EventLayoutCreated, EventID: id})
}

func (eb *EventBus) PublishLayoutChanged(ctx context.Context, id domain.EventID, fields []string) error {
	return eb.Publish(ctx, &Event{Type: EventLayoutChanged, EventID: id, Fields: fields})
}

// Subscribe calls handler for every event on the channel of id, including
// events published by this instance, until ctx is done. It returns once the
// shared subscription is confirmed by Redis.
func (eb *EventBus) Subscribe(ctx context.Context, id domain.EventID, handler func(*Event)) error {
	eb.mu.Lock()
	t, ok := eb.topics[id]
	if !ok {
		t = eb.openLocked(id)
	}
	eb.nextID++
	handlerID := eb.nextID
	t.handlers[handlerID] = handler
	eb.mu.Unlock()

	select {
	case <-t.ready:
	case <-ctx.Done():
		eb.unsubscribe(id, t, handlerID)
		return ctx.Err()
	}
	if t.err != nil {
		eb.unsubscribe(id, t, handlerID)
		return fmt.Errorf("failed to subscribe to %s: %w", eb.Channel(id), t.err)
	}

	go func() {
		<-ctx.Done()
		eb.unsubscribe(id, t, handlerID)
	}()
	return nil
}

func (eb *EventBus) openLocked(id domain.EventID) *topic {
	ctx, cancel := context.WithCancel(context.Background())
	t := &topic{
		handlers: make(map[uint64]func(*Event)),
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
	eb.topics[id] = t
	go eb.listen(ctx, id, t)
	return t
}

func (eb *EventBus) listen(ctx context.Context, id domain.EventID, t *topic) {
	pubsub := eb.client.Subscribe(ctx, eb.Channel(id))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		eb.mu.Lock()
		if eb.topics[id] == t {
			delete(eb.topics, id)
		}
		eb.mu.Unlock()
		t.err = err
		close(t.ready)
		return
	}
	close(t.ready)
	eb.logger.Debugw("subscribed to layout changes", "event_id", id)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			eb.dispatch(t, event)
		}
	}
}

func (eb *EventBus) dispatch(t *topic, event Event) {
	eb.mu.Lock()
	handlers := make([]func(*Event), 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	eb.mu.Unlock()

	for _, h := range handlers {
		e := event
		h(&e)
	}
}

// unsubscribe drops one handler and closes the Redis subscription with the
// last one.
func (eb *EventBus) unsubscribe(id domain.EventID, t *topic, handlerID uint64) {
	eb.mu.Lock()
	delete(t.handlers, handlerID)
	last := len(t.handlers) == 0
	if last && eb.topics[id] == t {
		delete(eb.topics, id)
	}
	eb.mu.Unlock()

	if last {
		t.cancel()
	}
}
