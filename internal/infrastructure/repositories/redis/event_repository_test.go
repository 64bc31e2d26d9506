package redis

import (
	"testing"

	"overlaycast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePatch_OnlyPresentFields(t *testing.T) {
	email := "a@b.com"
	values, err := encodePatch(domain.EventPatch{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"email": "a@b.com"}, values)
}

func TestEncodePatch_EmptyItemsIsArray(t *testing.T) {
	var items []domain.WatermarkItem
	values, err := encodePatch(domain.EventPatch{Items: &items})
	require.NoError(t, err)
	assert.Equal(t, "[]", values["items"])
}

func TestEncodeDecodeDocument(t *testing.T) {
	doc := domain.NewEventDocument("Jane", "jane@example.com", "42")
	doc.Items = []domain.WatermarkItem{
		domain.NewItem(domain.ItemTypeEmail, ""),
		domain.NewItem(domain.ItemTypeCustom, "Draft"),
	}

	values, err := encodePatch(doc.Patch())
	require.NoError(t, err)

	fields := make(map[string]string, len(values))
	for k, v := range values {
		fields[k] = v.(string)
	}

	got, err := decodeDocument(fields)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestDecodeDocument_Lenient(t *testing.T) {
	got, err := decodeDocument(map[string]string{
		"items": `[{"id":"a","type":"ip","x":"1500","rotation":"-400","opacity":"0.5"},{"text":"no id"}]`,
		"name":  "Jane",
	})
	require.NoError(t, err)

	require.Len(t, got.Items, 1)
	assert.Equal(t, domain.ItemTypeIP, got.Items[0].Type)
	assert.Equal(t, 1500, got.Items[0].X)
	assert.Equal(t, -180, got.Items[0].Rotation)
	assert.Equal(t, 0.5, got.Items[0].Opacity)
	assert.Equal(t, "Jane", got.Name)
	assert.Equal(t, "", got.Email)
}

func TestDecodeDocument_MissingItems(t *testing.T) {
	got, err := decodeDocument(map[string]string{"name": "Jane"})
	require.NoError(t, err)
	assert.NotNil(t, got.Items)
	assert.Empty(t, got.Items)

	_, err = decodeDocument(map[string]string{"items": "{broken"})
	assert.Error(t, err)
}

func TestEventIDFromKey(t *testing.T) {
	tests := []struct {
		key  string
		id   string
		want bool
	}{
		{key: "overlaycast:event:evt1", id: "evt1", want: true},
		{key: "overlaycast:event:evt1:changes", want: false},
		{key: "overlaycast:event:", want: false},
		{key: "other:event:evt1", want: false},
	}

	for _, tt := range tests {
		id, ok := eventIDFromKey("overlaycast:", tt.key)
		assert.Equal(t, tt.want, ok, tt.key)
		assert.Equal(t, tt.id, id, tt.key)
	}
}

func TestKeys(t *testing.T) {
	repo := NewRedisEventRepository(nil, nil, "overlaycast:", nil)
	assert.Equal(t, "overlaycast:event:evt1", repo.eventKey("evt1"))
	assert.Equal(t, "overlaycast:events", repo.indexKey())
}
