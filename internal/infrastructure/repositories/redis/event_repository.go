package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/internal/infrastructure/distributed"
	"overlaycast/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fieldItems        = "items"
	fieldName         = "name"
	fieldEmail        = "email"
	fieldVimeoEventID = "vimeoEventId"
)

// RedisEventRepository stores each layout as a hash with one field per
// document field. Changes are announced on a per-event pub/sub channel.
type RedisEventRepository struct {
	client *redis.Client
	bus    *distributed.EventBus
	prefix string
	logger *zap.SugaredLogger
}

func NewRedisEventRepository(client *redis.Client, bus *distributed.EventBus, prefix string, logger *zap.SugaredLogger) *RedisEventRepository {
	return &RedisEventRepository{
		client: client,
		bus:    bus,
		prefix: prefix,
		logger: logger,
	}
}

var _ ports.EventRepository = (*RedisEventRepository)(nil)

func (r *RedisEventRepository) eventKey(id domain.EventID) string {
	return r.prefix + "event:" + string(id)
}

func (r *RedisEventRepository) indexKey() string {
	return r.prefix + "events"
}

func (r *RedisEventRepository) Get(ctx context.Context, id domain.EventID) (*domain.EventDocument, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "get", "events")
	defer span.End()

	fields, err := r.client.HGetAll(ctx, r.eventKey(id)).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to get event from Redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrEventNotFound
	}

	doc, err := decodeDocument(fields)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateIfAbsent uses an optimistic transaction on the event key so that two
// sessions opening a new event create it once.
func (r *RedisEventRepository) CreateIfAbsent(ctx context.Context, id domain.EventID, doc domain.EventDocument) (bool, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "create", "events")
	defer span.End()

	values, err := encodePatch(doc.Patch())
	if err != nil {
		return false, err
	}

	key := r.eventKey(id)
	created := false
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, values)
			pipe.SAdd(ctx, r.indexKey(), string(id))
			return nil
		})
		if err == nil {
			created = true
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return false, fmt.Errorf("failed to create event in Redis: %w", err)
	}

	if created {
		if err := r.bus.PublishLayoutCreated(ctx, id); err != nil {
			r.logger.Warnw("failed to announce created event", "event_id", id, "error", err)
		}
	}
	return created, nil
}

func (r *RedisEventRepository) MergeWrite(ctx context.Context, id domain.EventID, patch domain.EventPatch) error {
	if patch.Empty() {
		return nil
	}

	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "merge_write", "events")
	defer span.End()

	values, err := encodePatch(patch)
	if err != nil {
		return err
	}

	key := r.eventKey(id)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		pipe.SAdd(ctx, r.indexKey(), string(id))
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to write event to Redis: %w", err)
	}

	if err := r.bus.PublishLayoutChanged(ctx, id, patch.Fields()); err != nil {
		r.logger.Warnw("failed to announce event change", "event_id", id, "error", err)
	}
	return nil
}

// Watch subscribes before the first read so no change between the two is
// missed. Every notification triggers a fresh read of the whole document.
func (r *RedisEventRepository) Watch(ctx context.Context, id domain.EventID) (<-chan domain.EventDocument, error) {
	notify := make(chan struct{}, 1)
	if err := r.bus.Subscribe(ctx, id, func(*distributed.Event) {
		select {
		case notify <- struct{}{}:
		default:
		}
	}); err != nil {
		return nil, err
	}

	out := make(chan domain.EventDocument, 1)
	go func() {
		defer close(out)

		send := func() bool {
			doc, err := r.Get(ctx, id)
			if errors.Is(err, domain.ErrEventNotFound) {
				return true
			}
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warnw("failed to read event after change", "event_id", id, "error", err)
				}
				return true
			}
			select {
			case <-out:
			default:
			}
			select {
			case out <- *doc:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				if !send() {
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *RedisEventRepository) List(ctx context.Context) ([]domain.EventID, error) {
	members, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list events from Redis: %w", err)
	}

	ids := make([]domain.EventID, 0, len(members))
	for _, m := range members {
		if m == "" {
			continue
		}
		ids = append(ids, domain.EventID(m))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *RedisEventRepository) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisEventRepository) Close() error {
	return CloseRedisClient(r.client)
}

// encodePatch turns the present fields of patch into hash values. Items are
// stored as one JSON array.
func encodePatch(patch domain.EventPatch) (map[string]interface{}, error) {
	values := make(map[string]interface{}, 4)
	if patch.Items != nil {
		items := *patch.Items
		if items == nil {
			items = []domain.WatermarkItem{}
		}
		data, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal items: %w", err)
		}
		values[fieldItems] = string(data)
	}
	if patch.Name != nil {
		values[fieldName] = *patch.Name
	}
	if patch.Email != nil {
		values[fieldEmail] = *patch.Email
	}
	if patch.VimeoEventID != nil {
		values[fieldVimeoEventID] = *patch.VimeoEventID
	}
	return values, nil
}

// decodeDocument reads a stored hash. Items are decoded leniently: numbers
// stored as strings are accepted and out of range values are clamped.
func decodeDocument(fields map[string]string) (domain.EventDocument, error) {
	doc := domain.EventDocument{
		Items:        []domain.WatermarkItem{},
		Name:         fields[fieldName],
		Email:        fields[fieldEmail],
		VimeoEventID: fields[fieldVimeoEventID],
	}

	if data, ok := fields[fieldItems]; ok && data != "" {
		var raw []domain.RemoteItem
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			return domain.EventDocument{}, fmt.Errorf("failed to unmarshal items: %w", err)
		}
		doc.Items = domain.DecodeItems(raw)
	}
	return doc, nil
}
