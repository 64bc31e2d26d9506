package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventDocument_Defaults(t *testing.T) {
	doc := NewEventDocument("", "", "")

	assert.Empty(t, doc.Items)
	assert.NotNil(t, doc.Items)
	assert.Equal(t, "John Doe", doc.Name)
	assert.Equal(t, "john.doe@example.com", doc.Email)
	assert.Equal(t, "5234535", doc.VimeoEventID)
}

func TestEventPatch_ApplyTo(t *testing.T) {
	doc := NewEventDocument("", "", "")
	email := "a@b.com"

	out := EventPatch{Email: &email}.ApplyTo(doc)
	assert.Equal(t, "a@b.com", out.Email)
	assert.Equal(t, doc.Name, out.Name)
	assert.Equal(t, doc.VimeoEventID, out.VimeoEventID)
	assert.Equal(t, "john.doe@example.com", doc.Email)

	assert.Equal(t, []string{"email"}, EventPatch{Email: &email}.Fields())
	assert.True(t, EventPatch{}.Empty())
}

func TestEventDocument_PatchRoundTrip(t *testing.T) {
	doc := NewEventDocument("Jane", "jane@example.com", "42")
	doc.Items = append(doc.Items, NewItem(ItemTypeName, ""))

	out := doc.Patch().ApplyTo(EventDocument{})
	assert.Equal(t, doc, out)

	out.Items[0].X = 99
	assert.Equal(t, DefaultItemX, doc.Items[0].X)
}

func TestNormalizeItems(t *testing.T) {
	var raw []RemoteItem
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id":"a","type":"name","x":"30","y":40,"width":100,"height":30,"rotation":400,"fontSize":12,"opacity":0.5},
		{"type":"custom","text":"no id"},
		{"id":"a","type":"email"},
		{"id":"b","type":"weird","text":"Draft"}
	]`), &raw))

	items := NormalizeItems(raw, DefaultBounds)
	require.Len(t, items, 2)

	assert.Equal(t, ItemID("a"), items[0].ID)
	assert.Equal(t, ItemTypeName, items[0].Type)
	assert.Equal(t, 30, items[0].X)
	assert.Equal(t, 180, items[0].Rotation)
	assert.Equal(t, 12, items[0].FontSize)

	assert.Equal(t, ItemID("b"), items[1].ID)
	assert.Equal(t, ItemTypeCustom, items[1].Type)
	assert.Equal(t, "Draft", items[1].Text)
	assert.Equal(t, DefaultItemWidth, items[1].Width)
}

func TestVimeoEmbedURL(t *testing.T) {
	assert.Equal(t, "https://vimeo.com/event/5234535/embed", VimeoEmbedURL("5234535"))
	assert.Equal(t, "", VimeoEmbedURL(""))
}

func TestRender(t *testing.T) {
	doc := NewEventDocument("", "a@b.com", "")
	email := NewItem(ItemTypeEmail, "")
	custom := NewItem(ItemTypeCustom, "Confidential")
	doc.Items = []WatermarkItem{email, custom}

	view := Render("evt1", RoleViewer, doc, SourceData{Name: doc.Name, Email: doc.Email, IPAddress: IPUnavailable}, Bounds{})

	text, ok := view.DisplayText(email.ID)
	require.True(t, ok)
	assert.Equal(t, "a@b.com", text)

	text, ok = view.DisplayText(custom.ID)
	require.True(t, ok)
	assert.Equal(t, "Confidential", text)

	assert.Equal(t, DefaultBounds, view.Bounds)
	assert.Equal(t, "https://vimeo.com/event/5234535/embed", view.EmbedURL)
}
