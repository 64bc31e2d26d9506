package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/pkg/tracing"

	gcfirestore "cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	fieldItems        = "items"
	fieldName         = "name"
	fieldEmail        = "email"
	fieldVimeoEventID = "vimeoEventId"
)

// FirestoreEventRepository keeps one document per event in a collection. The
// document layout is the one the browser editor reads and writes directly.
type FirestoreEventRepository struct {
	client     *gcfirestore.Client
	collection string
	logger     *zap.SugaredLogger
}

func NewFirestoreEventRepository(client *gcfirestore.Client, collection string, logger *zap.SugaredLogger) *FirestoreEventRepository {
	if collection == "" {
		collection = "events"
	}
	return &FirestoreEventRepository{
		client:     client,
		collection: collection,
		logger:     logger,
	}
}

var _ ports.EventRepository = (*FirestoreEventRepository)(nil)

func (r *FirestoreEventRepository) doc(id domain.EventID) *gcfirestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(string(id))
}

func (r *FirestoreEventRepository) Get(ctx context.Context, id domain.EventID) (*domain.EventDocument, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "firestore", "get", r.collection)
	defer span.End()

	snap, err := r.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to get event from Firestore: %w", err)
	}
	if !snap.Exists() {
		return nil, domain.ErrEventNotFound
	}

	doc := decodeDocument(snap.Data())
	return &doc, nil
}

// CreateIfAbsent relies on Create failing for existing documents.
func (r *FirestoreEventRepository) CreateIfAbsent(ctx context.Context, id domain.EventID, doc domain.EventDocument) (bool, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "firestore", "create", r.collection)
	defer span.End()

	_, err := r.doc(id).Create(ctx, encodePatch(doc.Patch()))
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return false, fmt.Errorf("failed to create event in Firestore: %w", err)
	}
	return true, nil
}

func (r *FirestoreEventRepository) MergeWrite(ctx context.Context, id domain.EventID, patch domain.EventPatch) error {
	if patch.Empty() {
		return nil
	}

	ctx, span := tracing.TraceDatabaseOperation(ctx, "firestore", "merge_write", r.collection)
	defer span.End()

	if _, err := r.doc(id).Set(ctx, encodePatch(patch), gcfirestore.MergeAll); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to write event to Firestore: %w", err)
	}
	return nil
}

// Watch streams document snapshots. Snapshots of a missing document are
// skipped.
func (r *FirestoreEventRepository) Watch(ctx context.Context, id domain.EventID) (<-chan domain.EventDocument, error) {
	it := r.doc(id).Snapshots(ctx)
	out := make(chan domain.EventDocument, 1)

	go func() {
		defer close(out)
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					r.logger.Warnw("event subscription ended", "event_id", id, "error", err)
				}
				return
			}
			if !snap.Exists() {
				continue
			}

			doc := decodeDocument(snap.Data())
			select {
			case <-out:
			default:
			}
			select {
			case out <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *FirestoreEventRepository) List(ctx context.Context) ([]domain.EventID, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "firestore", "list", r.collection)
	defer span.End()

	it := r.client.Collection(r.collection).DocumentRefs(ctx)
	var ids []domain.EventID
	for {
		ref, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, fmt.Errorf("failed to list events from Firestore: %w", err)
		}
		ids = append(ids, domain.EventID(ref.ID))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *FirestoreEventRepository) HealthCheck(ctx context.Context) error {
	it := r.client.Collection(r.collection).Limit(1).Documents(ctx)
	defer it.Stop()

	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore unavailable: %w", err)
	}
	return nil
}

func (r *FirestoreEventRepository) Close() error {
	return r.client.Close()
}

// encodePatch builds the merge map. Items are written as plain maps so the
// stored field names match the JSON ones.
func encodePatch(patch domain.EventPatch) map[string]interface{} {
	data := make(map[string]interface{}, 4)
	if patch.Items != nil {
		items := make([]interface{}, 0, len(*patch.Items))
		for _, item := range *patch.Items {
			items = append(items, encodeItem(item))
		}
		data[fieldItems] = items
	}
	if patch.Name != nil {
		data[fieldName] = *patch.Name
	}
	if patch.Email != nil {
		data[fieldEmail] = *patch.Email
	}
	if patch.VimeoEventID != nil {
		data[fieldVimeoEventID] = *patch.VimeoEventID
	}
	return data
}

func encodeItem(item domain.WatermarkItem) map[string]interface{} {
	return map[string]interface{}{
		"id":       string(item.ID),
		"type":     string(item.Type),
		"text":     item.Text,
		"x":        int64(item.X),
		"y":        int64(item.Y),
		"width":    int64(item.Width),
		"height":   int64(item.Height),
		"rotation": int64(item.Rotation),
		"fontSize": int64(item.FontSize),
		"opacity":  item.Opacity,
	}
}

// decodeDocument reads snapshot data written by this service or by the
// browser editor. Numbers may arrive as int64, float64 or strings.
func decodeDocument(data map[string]interface{}) domain.EventDocument {
	doc := domain.EventDocument{
		Items:        []domain.WatermarkItem{},
		Name:         stringValue(data[fieldName]),
		Email:        stringValue(data[fieldEmail]),
		VimeoEventID: stringValue(data[fieldVimeoEventID]),
	}

	rawItems, _ := data[fieldItems].([]interface{})
	remote := make([]domain.RemoteItem, 0, len(rawItems))
	for _, raw := range rawItems {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		remote = append(remote, decodeItem(m))
	}
	doc.Items = domain.DecodeItems(remote)
	return doc
}

func decodeItem(m map[string]interface{}) domain.RemoteItem {
	item := domain.RemoteItem{ID: domain.ItemID(stringValue(m["id"]))}
	if t, ok := m["type"].(string); ok {
		itemType := domain.ItemType(t)
		item.Type = &itemType
	}
	if text, ok := m["text"].(string); ok {
		item.Text = &text
	}
	item.X = domain.InputFromValue(m["x"])
	item.Y = domain.InputFromValue(m["y"])
	item.Width = domain.InputFromValue(m["width"])
	item.Height = domain.InputFromValue(m["height"])
	item.Rotation = domain.InputFromValue(m["rotation"])
	item.FontSize = domain.InputFromValue(m["fontSize"])
	item.Opacity = domain.InputFromValue(m["opacity"])
	return item
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
