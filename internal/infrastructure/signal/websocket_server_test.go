package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/services"
	"overlaycast/internal/infrastructure/iplookup"
	"overlaycast/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type rawFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T, cfg ServerConfig) (*httptest.Server, *LayoutSocketServer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()

	repo := memory.NewMemoryEventRepository()
	storeCfg := services.DefaultLayoutStoreConfig()
	storeCfg.LoadTimeout = time.Second
	svc := services.NewEventService(repo, iplookup.RequestResolver{}, nil, logger, storeCfg)

	if cfg.PingInterval == 0 {
		cfg.PingInterval = time.Second
	}
	cfg.WriteWait = time.Second
	srv := NewLayoutSocketServer(svc, cfg, nil, logger)

	router := gin.New()
	router.GET("/event/:eventId/admin", srv.HandleAdmin)
	router.GET("/event/:eventId/watch", srv.HandleWatch)

	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.CloseAll()
		ts.Close()
		_ = svc.Shutdown(context.Background())
		_ = repo.Close()
	})
	return ts, srv
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	msg := map[string]interface{}{"type": msgType}
	if payload != nil {
		msg["payload"] = payload
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(rawFrame) bool) rawFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame rawFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if match(frame) {
			return frame
		}
	}
}

func readSnapshot(t *testing.T, conn *websocket.Conn, match func(domain.View) bool) domain.View {
	t.Helper()
	var view domain.View
	readUntil(t, conn, func(f rawFrame) bool {
		if f.Type != MessageSnapshot {
			return false
		}
		var v domain.View
		require.NoError(t, json.Unmarshal(f.Payload, &v))
		if match(v) {
			view = v
			return true
		}
		return false
	})
	return view
}

func readError(t *testing.T, conn *websocket.Conn) ErrorPayload {
	t.Helper()
	frame := readUntil(t, conn, func(f rawFrame) bool { return f.Type == MessageError })
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	return p
}

func TestLayoutSocketServer_EditorToViewer(t *testing.T) {
	ts, _ := newTestServer(t, ServerConfig{})

	editor := dial(t, ts, "/event/evt1/admin")
	initial := readSnapshot(t, editor, func(domain.View) bool { return true })
	assert.Equal(t, domain.RoleEditor, initial.Role)
	assert.Equal(t, domain.EventID("evt1"), initial.EventID)
	assert.Empty(t, initial.Items)
	assert.Equal(t, "https://vimeo.com/event/5234535/embed", initial.EmbedURL)

	send(t, editor, MessageAddItem, AddItemPayload{Type: domain.ItemTypeCustom, Text: "Confidential"})
	added := readSnapshot(t, editor, func(v domain.View) bool { return len(v.Items) == 1 })
	assert.Equal(t, added.Items[0].ID, added.SelectedItemID)
	assert.Equal(t, "Confidential", added.Items[0].DisplayText)

	viewer := dial(t, ts, "/event/evt1/watch")
	seen := readSnapshot(t, viewer, func(v domain.View) bool { return len(v.Items) == 1 })
	assert.Equal(t, domain.RoleViewer, seen.Role)
	assert.Equal(t, "Confidential", seen.Items[0].DisplayText)
	assert.Empty(t, seen.SelectedItemID)

	send(t, editor, MessageRenameSource, RenameSourcePayload{Name: strPtr("Jane Roe")})
	send(t, editor, MessageAddItem, AddItemPayload{Type: domain.ItemTypeName})
	named := readSnapshot(t, viewer, func(v domain.View) bool { return len(v.Items) == 2 && v.Source.Name == "Jane Roe" })
	assert.Equal(t, "Jane Roe", named.Items[1].DisplayText)
}

func TestLayoutSocketServer_DragAndResize(t *testing.T) {
	ts, _ := newTestServer(t, ServerConfig{})
	editor := dial(t, ts, "/event/evt-drag/admin")

	send(t, editor, MessageAddItem, AddItemPayload{Type: domain.ItemTypeEmail})
	view := readSnapshot(t, editor, func(v domain.View) bool { return len(v.Items) == 1 })
	id := view.Items[0].ID

	send(t, editor, MessageDragStart, nil)
	readSnapshot(t, editor, func(v domain.View) bool { return v.Interaction == domain.StateDragging })

	send(t, editor, MessageDragStop, map[string]interface{}{"x": "120px", "y": 40})
	view = readSnapshot(t, editor, func(v domain.View) bool { return v.Items[0].X == 120 })
	assert.Equal(t, 40, view.Items[0].Y)
	assert.Equal(t, domain.StateSelected, view.Interaction)

	send(t, editor, MessageResizeStart, nil)
	send(t, editor, MessageResizeStop, map[string]interface{}{"width": 300, "height": "100"})
	view = readSnapshot(t, editor, func(v domain.View) bool { return v.Items[0].Height == 100 })
	assert.Equal(t, 300, view.Items[0].Width)
	assert.Equal(t, 40, view.Items[0].FontSize)

	send(t, editor, MessageRemoveItem, ItemRefPayload{ID: id})
	view = readSnapshot(t, editor, func(v domain.View) bool { return len(v.Items) == 0 })
	assert.Empty(t, view.SelectedItemID)
}

func TestLayoutSocketServer_Errors(t *testing.T) {
	ts, _ := newTestServer(t, ServerConfig{})

	viewer := dial(t, ts, "/event/evt-err/watch")
	send(t, viewer, MessageAddItem, AddItemPayload{Type: domain.ItemTypeIP})
	p := readError(t, viewer)
	assert.Equal(t, "FORBIDDEN", p.Code)
	assert.Equal(t, MessageAddItem, p.RequestType)

	editor := dial(t, ts, "/event/evt-err/admin")

	send(t, editor, "teleport", nil)
	p = readError(t, editor)
	assert.Equal(t, "INVALID_INPUT", p.Code)
	assert.Contains(t, p.Message, "unknown message type")

	require.NoError(t, editor.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "INVALID_INPUT", readError(t, editor).Code)

	send(t, editor, MessageRemoveItem, nil)
	assert.Equal(t, "INVALID_INPUT", readError(t, editor).Code)

	send(t, editor, MessageDragStop, map[string]interface{}{"x": 1})
	assert.Equal(t, "INVALID_TRANSITION", readError(t, editor).Code)

	send(t, editor, MessageSelect, ItemRefPayload{ID: "missing"})
	assert.Equal(t, "NOT_FOUND", readError(t, editor).Code)

	send(t, editor, MessageSetVideo, SetVideoPayload{VimeoEventID: "../etc"})
	assert.Equal(t, "INVALID_INPUT", readError(t, editor).Code)
}

func TestLayoutSocketServer_MessageRateLimit(t *testing.T) {
	ts, _ := newTestServer(t, ServerConfig{MessagesPerSecond: 0.001, MessageBurst: 1})
	editor := dial(t, ts, "/event/evt-rl/admin")

	send(t, editor, MessageClearSelection, nil)
	send(t, editor, MessageClearSelection, nil)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", readError(t, editor).Code)
}

func TestLayoutSocketServer_RejectsBeforeUpgrade(t *testing.T) {
	ts, _ := newTestServer(t, ServerConfig{MaxConnections: 1})

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url+"/event/bad%20id/admin", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	dial(t, ts, "/event/evt-max/admin")
	_, resp, err = websocket.DefaultDialer.Dial(url+"/event/evt-max/watch", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLayoutSocketServer_ConnectionTracking(t *testing.T) {
	ts, srv := newTestServer(t, ServerConfig{})

	conn := dial(t, ts, "/event/evt-track/watch")
	readSnapshot(t, conn, func(domain.View) bool { return true })
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLayoutSocketServer_ShowsForwardedClientAddress(t *testing.T) {
	ts, _ := newTestServer(t, ServerConfig{})

	header := http.Header{}
	header.Set("X-Forwarded-For", "203.0.113.77")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/event/evt-ip/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	view := readSnapshot(t, conn, func(v domain.View) bool { return v.Source.IPAddress != domain.IPPending })
	assert.Equal(t, "203.0.113.77", view.Source.IPAddress)
}

func TestCheckOrigin(t *testing.T) {
	srv := NewLayoutSocketServer(nil, ServerConfig{AllowedOrigins: []string{"https://studio.example.com"}}, nil, zaptest.NewLogger(t).Sugar())

	req := httptest.NewRequest(http.MethodGet, "/event/e/admin", nil)
	assert.True(t, srv.checkOrigin(req))

	req.Header.Set("Origin", "https://studio.example.com")
	assert.True(t, srv.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, srv.checkOrigin(req))
}

func strPtr(s string) *string { return &s }
