package domain

// RenderedItem is an item together with the text a surface should draw.
type RenderedItem struct {
	WatermarkItem
	DisplayText string `json:"displayText"`
}

// View is everything a render surface needs for one frame.
type View struct {
	EventID        EventID          `json:"eventId"`
	Role           Role             `json:"role"`
	Items          []RenderedItem   `json:"items"`
	SelectedItemID ItemID           `json:"selectedItemId,omitempty"`
	Interaction    InteractionState `json:"interaction,omitempty"`
	Source         SourceData       `json:"source"`
	VimeoEventID   string           `json:"vimeoEventId"`
	EmbedURL       string           `json:"embedUrl"`
	Bounds         Bounds           `json:"bounds"`
}

// Render resolves display text for every item in doc.
func Render(eventID EventID, role Role, doc EventDocument, src SourceData, bounds Bounds) View {
	items := make([]RenderedItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, RenderedItem{
			WatermarkItem: item,
			DisplayText:   ResolveDisplayText(item, src),
		})
	}
	return View{
		EventID:      eventID,
		Role:         role,
		Items:        items,
		Source:       src,
		VimeoEventID: doc.VimeoEventID,
		EmbedURL:     VimeoEmbedURL(doc.VimeoEventID),
		Bounds:       bounds.orDefault(),
	}
}

// DisplayText returns the rendered text of id, if present.
func (v View) DisplayText(id ItemID) (string, bool) {
	for _, item := range v.Items {
		if item.ID == id {
			return item.DisplayText, true
		}
	}
	return "", false
}
