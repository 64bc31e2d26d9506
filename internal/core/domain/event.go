package domain

import (
	"fmt"
	"math"
	"net/url"
)

type EventID string

// Role is what a session may do with an event's layout.
type Role string

const (
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) CanEdit() bool {
	return r == RoleEditor
}

// IPUnavailable is shown in place of an address that could not be resolved.
const IPUnavailable = "Unavailable"

// IPPending is shown while the address is still being looked up.
const IPPending = "Fetching..."

const (
	DefaultSourceName   = "John Doe"
	DefaultSourceEmail  = "john.doe@example.com"
	DefaultVideoEventID = "5234535"
)

// SourceData holds the values substituted into name, email and ip items.
type SourceData struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	IPAddress string `json:"ipAddress"`
}

// EventDocument is the shared, remotely stored layout of one event.
type EventDocument struct {
	Items        []WatermarkItem `json:"items"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	VimeoEventID string          `json:"vimeoEventId"`
}

// NewEventDocument returns the document written on first access.
func NewEventDocument(name, email, videoEventID string) EventDocument {
	if name == "" {
		name = DefaultSourceName
	}
	if email == "" {
		email = DefaultSourceEmail
	}
	if videoEventID == "" {
		videoEventID = DefaultVideoEventID
	}
	return EventDocument{
		Items:        []WatermarkItem{},
		Name:         name,
		Email:        email,
		VimeoEventID: videoEventID,
	}
}

func (d EventDocument) Clone() EventDocument {
	out := d
	out.Items = make([]WatermarkItem, len(d.Items))
	copy(out.Items, d.Items)
	return out
}

// Patch returns a merge-write carrying every field of d.
func (d EventDocument) Patch() EventPatch {
	items := make([]WatermarkItem, len(d.Items))
	copy(items, d.Items)
	name, email, video := d.Name, d.Email, d.VimeoEventID
	return EventPatch{Items: &items, Name: &name, Email: &email, VimeoEventID: &video}
}

// EventPatch is a merge-write: nil fields are preserved by the store.
type EventPatch struct {
	Items        *[]WatermarkItem `json:"items,omitempty"`
	Name         *string          `json:"name,omitempty"`
	Email        *string          `json:"email,omitempty"`
	VimeoEventID *string          `json:"vimeoEventId,omitempty"`
}

func (p EventPatch) Empty() bool {
	return p.Items == nil && p.Name == nil && p.Email == nil && p.VimeoEventID == nil
}

// ApplyTo merges p into d and returns the result.
func (p EventPatch) ApplyTo(d EventDocument) EventDocument {
	out := d.Clone()
	if p.Items != nil {
		out.Items = make([]WatermarkItem, len(*p.Items))
		copy(out.Items, *p.Items)
	}
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Email != nil {
		out.Email = *p.Email
	}
	if p.VimeoEventID != nil {
		out.VimeoEventID = *p.VimeoEventID
	}
	return out
}

// Fields lists the document fields present in p.
func (p EventPatch) Fields() []string {
	var fields []string
	if p.Items != nil {
		fields = append(fields, "items")
	}
	if p.Name != nil {
		fields = append(fields, "name")
	}
	if p.Email != nil {
		fields = append(fields, "email")
	}
	if p.VimeoEventID != nil {
		fields = append(fields, "vimeoEventId")
	}
	return fields
}

// RemoteItem is an item as decoded from a stored document, before validation.
type RemoteItem struct {
	ID ItemID `json:"id"`
	ItemPatch
}

// NormalizeItems validates decoded items. Items without an id and later
// duplicates of an id are dropped.
func NormalizeItems(raw []RemoteItem, bounds Bounds) []WatermarkItem {
	seen := make(map[ItemID]bool, len(raw))
	items := make([]WatermarkItem, 0, len(raw))
	for _, r := range raw {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		items = append(items, NormalizeItem(r.ID, r.ItemPatch, bounds))
	}
	return items
}

// storageBounds lets stored geometry through untouched; sessions clamp to
// their own container.
var storageBounds = Bounds{Width: math.MaxInt32, Height: math.MaxInt32}

// DecodeItems converts items read from storage. Value ranges are enforced,
// container bounds are not.
func DecodeItems(raw []RemoteItem) []WatermarkItem {
	return NormalizeItems(raw, storageBounds)
}

// NormalizeDocument re-validates every item of d.
func NormalizeDocument(d EventDocument, bounds Bounds) EventDocument {
	out := d.Clone()
	seen := make(map[ItemID]bool, len(out.Items))
	items := out.Items[:0]
	for _, item := range out.Items {
		if item.ID == "" || seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		items = append(items, Clamp(item, bounds))
	}
	out.Items = items
	return out
}

// VimeoEmbedURL is the player URL for a Vimeo live event.
func VimeoEmbedURL(videoEventID string) string {
	if videoEventID == "" {
		return ""
	}
	return fmt.Sprintf("https://vimeo.com/event/%s/embed", url.PathEscape(videoEventID))
}
