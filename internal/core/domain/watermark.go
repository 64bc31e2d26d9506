package domain

import (
	"math"

	"github.com/google/uuid"
)

type ItemID string

type ItemType string

const (
	ItemTypeName   ItemType = "name"
	ItemTypeEmail  ItemType = "email"
	ItemTypeIP     ItemType = "ip"
	ItemTypeCustom ItemType = "custom"
)

func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeName, ItemTypeEmail, ItemTypeIP, ItemTypeCustom:
		return true
	}
	return false
}

// Value ranges enforced on every write path.
const (
	MinRotation = -180
	MaxRotation = 180
	MinFontSize = 10
	MaxFontSize = 200
	MinOpacity  = 0.0
	MaxOpacity  = 1.0

	// Resized boxes never get glyphs smaller than this.
	MinDerivedFontSize = 12
	fontSizePerPixel   = 0.4
)

// Defaults for freshly created items.
const (
	DefaultItemX        = 20
	DefaultItemY        = 20
	DefaultItemWidth    = 250
	DefaultItemHeight   = 50
	DefaultItemRotation = 0
	DefaultItemFontSize = 22
	DefaultItemOpacity  = 1.0
)

type WatermarkItem struct {
	ID       ItemID   `json:"id"`
	Type     ItemType `json:"type"`
	Text     string   `json:"text"`
	X        int      `json:"x"`
	Y        int      `json:"y"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Rotation int      `json:"rotation"`
	FontSize int      `json:"fontSize"`
	Opacity  float64  `json:"opacity"`
}

// Bounds is the size of the container the overlay is positioned in.
type Bounds struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// DefaultBounds is a 16:9 container.
var DefaultBounds = Bounds{Width: 1280, Height: 720}

func (b Bounds) orDefault() Bounds {
	if b.Width <= 0 || b.Height <= 0 {
		return DefaultBounds
	}
	return b
}

// ItemPatch carries the fields of an update. Nil fields are left untouched.
type ItemPatch struct {
	Type     *ItemType `json:"type,omitempty"`
	Text     *string   `json:"text,omitempty"`
	X        *Input    `json:"x,omitempty"`
	Y        *Input    `json:"y,omitempty"`
	Width    *Input    `json:"width,omitempty"`
	Height   *Input    `json:"height,omitempty"`
	Rotation *Input    `json:"rotation,omitempty"`
	FontSize *Input    `json:"fontSize,omitempty"`
	Opacity  *Input    `json:"opacity,omitempty"`
}

// NewItem creates an item with a fresh id and default geometry.
// Unknown types are stored as custom text.
func NewItem(t ItemType, text string) WatermarkItem {
	if !t.Valid() {
		t = ItemTypeCustom
	}
	return WatermarkItem{
		ID:       ItemID(uuid.NewString()),
		Type:     t,
		Text:     text,
		X:        DefaultItemX,
		Y:        DefaultItemY,
		Width:    DefaultItemWidth,
		Height:   DefaultItemHeight,
		Rotation: DefaultItemRotation,
		FontSize: DefaultItemFontSize,
		Opacity:  DefaultItemOpacity,
	}
}

// FontSizeForHeight couples glyph size to box height after a resize.
func FontSizeForHeight(height int) int {
	size := int(math.Floor(float64(height)*fontSizePerPixel + 0.5))
	if size < MinDerivedFontSize {
		return MinDerivedFontSize
	}
	return size
}

// ApplyPatch merges p into item and clamps the result into range. When the
// patch changes the height, the font size is derived from the new height and
// any font size in the patch is ignored.
func ApplyPatch(item WatermarkItem, p ItemPatch, bounds Bounds) WatermarkItem {
	out := applyFields(item, p, bounds)
	if p.Height.ValidInt() {
		out.FontSize = clampInt(FontSizeForHeight(out.Height), MinFontSize, MaxFontSize)
	}
	return out
}

// NormalizeItem validates an item read from a remote document. Geometry is
// clamped but no field is derived from another.
func NormalizeItem(id ItemID, p ItemPatch, bounds Bounds) WatermarkItem {
	base := WatermarkItem{
		ID:       id,
		Type:     ItemTypeCustom,
		X:        DefaultItemX,
		Y:        DefaultItemY,
		Width:    DefaultItemWidth,
		Height:   DefaultItemHeight,
		Rotation: DefaultItemRotation,
		FontSize: DefaultItemFontSize,
		Opacity:  DefaultItemOpacity,
	}
	return applyFields(base, p, bounds)
}

// Clamp forces every numeric field of item into range.
func Clamp(item WatermarkItem, bounds Bounds) WatermarkItem {
	return applyFields(item, ItemPatch{}, bounds)
}

func applyFields(item WatermarkItem, p ItemPatch, bounds Bounds) WatermarkItem {
	b := bounds.orDefault()

	if p.Type != nil {
		item.Type = *p.Type
	}
	if !item.Type.Valid() {
		item.Type = ItemTypeCustom
	}
	if p.Text != nil {
		item.Text = *p.Text
	}
	if v, ok := p.Width.Int(); ok {
		item.Width = v
	}
	if v, ok := p.Height.Int(); ok {
		item.Height = v
	}
	if v, ok := p.X.Int(); ok {
		item.X = v
	}
	if v, ok := p.Y.Int(); ok {
		item.Y = v
	}
	if v, ok := p.Rotation.Int(); ok {
		item.Rotation = v
	}
	if v, ok := p.FontSize.Int(); ok {
		item.FontSize = v
	}
	if v, ok := p.Opacity.Float(); ok {
		item.Opacity = v
	}

	item.Width = clampInt(item.Width, 1, b.Width)
	item.Height = clampInt(item.Height, 1, b.Height)
	item.X = clampInt(item.X, 0, b.Width-item.Width)
	item.Y = clampInt(item.Y, 0, b.Height-item.Height)
	item.Rotation = clampInt(item.Rotation, MinRotation, MaxRotation)
	item.FontSize = clampInt(item.FontSize, MinFontSize, MaxFontSize)
	item.Opacity = clampFloat(item.Opacity, MinOpacity, MaxOpacity)
	return item
}

// RemoveItem returns items without the one matching id. Order is kept and an
// unknown id leaves the list unchanged.
func RemoveItem(items []WatermarkItem, id ItemID) []WatermarkItem {
	out := make([]WatermarkItem, 0, len(items))
	for _, item := range items {
		if item.ID != id {
			out = append(out, item)
		}
	}
	return out
}

func FindItem(items []WatermarkItem, id ItemID) (WatermarkItem, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return WatermarkItem{}, false
}

// ResolveDisplayText returns the text shown for item.
func ResolveDisplayText(item WatermarkItem, src SourceData) string {
	switch item.Type {
	case ItemTypeName:
		return src.Name
	case ItemTypeEmail:
		return src.Email
	case ItemTypeIP:
		return src.IPAddress
	default:
		return item.Text
	}
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return hi
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
