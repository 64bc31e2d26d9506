package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/pkg/config"
	apperrors "overlaycast/pkg/errors"
	rlog "overlaycast/pkg/logger"
	"overlaycast/pkg/tracing"
	"overlaycast/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	MessageSelect         = "select"
	MessageClearSelection = "clear_selection"
	MessagePointerDown    = "pointer_down"
	MessageDragStart      = "drag_start"
	MessageDragStop       = "drag_stop"
	MessageResizeStart    = "resize_start"
	MessageResizeStop     = "resize_stop"
	MessageAddItem        = "add_item"
	MessageUpdateItem     = "update_item"
	MessageRemoveItem     = "remove_item"
	MessageRenameSource   = "rename_source"
	MessageSetVideo       = "set_video"

	MessageSnapshot = "snapshot"
	MessageError    = "error"
)

// ClientMessage is one frame sent by an editor or viewer.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is one frame sent to a client.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"request_type,omitempty"`
}

type ItemRefPayload struct {
	ID domain.ItemID `json:"id"`
}

type DragStopPayload struct {
	X *domain.Input `json:"x"`
	Y *domain.Input `json:"y"`
}

type ResizeStopPayload struct {
	Width  *domain.Input `json:"width"`
	Height *domain.Input `json:"height"`
	X      *domain.Input `json:"x"`
	Y      *domain.Input `json:"y"`
}

type AddItemPayload struct {
	Type domain.ItemType `json:"type"`
	Text string          `json:"text"`
}

type UpdateItemPayload struct {
	ID    domain.ItemID    `json:"id"`
	Props domain.ItemPatch `json:"props"`
}

type RenameSourcePayload struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

type SetVideoPayload struct {
	VimeoEventID string `json:"vimeo_event_id"`
}

// ConnectionMetrics receives socket level counters.
type ConnectionMetrics interface {
	ConnectionOpened(role domain.Role)
	ConnectionClosed(role domain.Role)
	MessageHandled(messageType string, failed bool)
}

type nopConnectionMetrics struct{}

func (nopConnectionMetrics) ConnectionOpened(domain.Role) {}
func (nopConnectionMetrics) ConnectionClosed(domain.Role) {}
func (nopConnectionMetrics) MessageHandled(string, bool)  {}

type ServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	MaxMessageSize int64
	AllowedOrigins []string

	// zero values disable the limits below
	MessagesPerSecond    float64
	MessageBurst         int
	ConnectionsPerMinute int
	MaxConnections       int
}

func ServerConfigFromConfig(cfg *config.Config) ServerConfig {
	sc := ServerConfig{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteWait:      cfg.Signal.WriteWait,
		SendBuffer:     cfg.Signal.SendBuffer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		ws := cfg.RateLimiting.WebSocket
		sc.MaxMessageSize = ws.MaxMessageSizeBytes
		sc.MessagesPerSecond = ws.MessagesPerSecond
		sc.MessageBurst = ws.Burst
		sc.ConnectionsPerMinute = ws.ConnectionsPerMinute
		sc.MaxConnections = ws.MaxConcurrent
	}
	return sc
}

// LayoutSocketServer attaches WebSocket clients to layout sessions. Editors
// connect on the admin route, viewers on the watch route.
type LayoutSocketServer struct {
	events  ports.EventService
	cfg     ServerConfig
	metrics ConnectionMetrics
	logger  *zap.SugaredLogger
	ctxLog  *rlog.ContextLogger

	upgrader    websocket.Upgrader
	connLimiter *rate.Limiter
	connSlots   chan struct{}

	mu          sync.RWMutex
	connections map[*connection]struct{}
}

var _ ports.WebSocketHandler = (*LayoutSocketServer)(nil)

func NewLayoutSocketServer(events ports.EventService, cfg ServerConfig, metrics ConnectionMetrics, logger *zap.SugaredLogger) *LayoutSocketServer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if metrics == nil {
		metrics = nopConnectionMetrics{}
	}

	s := &LayoutSocketServer{
		events:      events,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
		ctxLog:      rlog.NewContextLogger(logger),
		connections: make(map[*connection]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	if cfg.ConnectionsPerMinute > 0 {
		s.connLimiter = rate.NewLimiter(rate.Limit(float64(cfg.ConnectionsPerMinute)/60), cfg.ConnectionsPerMinute)
	}
	if cfg.MaxConnections > 0 {
		s.connSlots = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

func (s *LayoutSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleAdmin serves GET /event/:eventId/admin.
func (s *LayoutSocketServer) HandleAdmin(c *gin.Context) {
	s.serve(c, domain.RoleEditor)
}

// HandleWatch serves GET /event/:eventId/watch.
func (s *LayoutSocketServer) HandleWatch(c *gin.Context) {
	s.serve(c, domain.RoleViewer)
}

func (s *LayoutSocketServer) serve(c *gin.Context, role domain.Role) {
	eventID := c.Param("eventId")
	if err := validation.ValidateEventID(eventID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(apperrors.ErrCodeInvalidInput), "message": err.Error()})
		return
	}

	if s.connLimiter != nil && !s.connLimiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": string(apperrors.ErrCodeRateLimit), "message": "too many connection attempts"})
		return
	}
	if s.connSlots != nil {
		select {
		case s.connSlots <- struct{}{}:
			defer func() { <-s.connSlots }()
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": string(apperrors.ErrCodeServiceUnavailable), "message": "too many connections"})
			return
		}
	}

	ctx := rlog.WithEventID(c.Request.Context(), eventID)
	session, err := s.events.OpenSession(ctx, domain.EventID(eventID), role, c.ClientIP())
	if err != nil {
		appErr := apperrors.FromDomain(err)
		s.ctxLog.LogError(ctx, err, "failed to open layout session", "role", role)
		c.JSON(appErr.HTTPStatus, gin.H{"error": string(appErr.Code), "message": appErr.Message})
		return
	}
	defer session.Close()

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "event_id", eventID, "error", err)
		return
	}

	conn := newConnection(s, ws, session)
	s.register(conn)
	s.metrics.ConnectionOpened(role)
	s.logger.Infow("client connected", "event_id", eventID, "role", role, "client_ip", c.ClientIP())

	conn.run(context.WithoutCancel(ctx))

	s.unregister(conn)
	s.metrics.ConnectionClosed(role)
	s.logger.Infow("client disconnected", "event_id", eventID, "role", role)
}

func (s *LayoutSocketServer) register(conn *connection) {
	s.mu.Lock()
	s.connections[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *LayoutSocketServer) unregister(conn *connection) {
	s.mu.Lock()
	delete(s.connections, conn)
	s.mu.Unlock()
}

// ConnectionCount returns the number of attached clients.
func (s *LayoutSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// CloseAll sends a going-away close frame to every client. Handlers return
// once their read loops notice.
func (s *LayoutSocketServer) CloseAll() {
	s.mu.RLock()
	conns := make([]*connection, 0, len(s.connections))
	for conn := range s.connections {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		conn.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}

type connection struct {
	server  *LayoutSocketServer
	ws      *websocket.Conn
	session ports.LayoutSession
	limiter *rate.Limiter

	// latest snapshot wins; stale views are never worth sending
	snapshots chan domain.View
	errors    chan ServerMessage
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(s *LayoutSocketServer, ws *websocket.Conn, session ports.LayoutSession) *connection {
	c := &connection{
		server:    s,
		ws:        ws,
		session:   session,
		snapshots: make(chan domain.View, 1),
		errors:    make(chan ServerMessage, s.cfg.SendBuffer),
		done:      make(chan struct{}),
	}
	if s.cfg.MessagesPerSecond > 0 {
		burst := s.cfg.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), burst)
	}
	return c
}

func (c *connection) run(ctx context.Context) {
	c.session.OnChange(c.pushSnapshot)
	c.pushSnapshot(c.session.View())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.readLoop(ctx)
	c.shutdown(websocket.CloseNormalClosure, "")
	<-writerDone
	c.ws.Close()
}

func (c *connection) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.server.cfg.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		close(c.done)
	})
}

func (c *connection) pushSnapshot(view domain.View) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case <-c.snapshots:
	default:
	}
	select {
	case c.snapshots <- view:
	default:
	}
}

func (c *connection) pushError(requestType string, err error) {
	appErr := apperrors.FromDomain(err)
	msg := appErr.Message
	if appErr.Code == apperrors.ErrCodeInvalidInput && appErr.Cause != nil {
		msg = appErr.Cause.Error()
	}
	frame := ServerMessage{
		Type: MessageError,
		Payload: ErrorPayload{
			Code:        string(appErr.Code),
			Message:     msg,
			RequestType: requestType,
		},
	}
	select {
	case c.errors <- frame:
	case <-c.done:
	default:
		c.server.logger.Warnw("dropping error frame, client not reading", "event_id", c.session.EventID())
	}
}

func (c *connection) readLoop(ctx context.Context) {
	cfg := c.server.cfg
	if cfg.MaxMessageSize > 0 {
		c.ws.SetReadLimit(cfg.MaxMessageSize)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.logger.Infow("error reading from client", "event_id", c.session.EventID(), "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		if c.limiter != nil && !c.limiter.Allow() {
			c.pushError("", apperrors.NewRateLimitError())
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.pushError("", apperrors.NewInvalidInputError("malformed message"))
			continue
		}

		err = c.handle(ctx, msg)
		c.server.metrics.MessageHandled(msg.Type, err != nil)
		if err != nil {
			c.server.logger.Debugw("message rejected",
				"event_id", c.session.EventID(),
				"type", msg.Type,
				"error", err,
			)
			c.pushError(msg.Type, err)
		}
	}
}

func (c *connection) writeLoop() {
	cfg := c.server.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	write := func(frame ServerMessage) bool {
		_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
		if err := c.ws.WriteJSON(frame); err != nil {
			c.server.logger.Infow("error writing to client", "event_id", c.session.EventID(), "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case view := <-c.snapshots:
			if !write(ServerMessage{Type: MessageSnapshot, Payload: view}) {
				return
			}
		case frame := <-c.errors:
			if !write(frame) {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) handle(ctx context.Context, msg ClientMessage) error {
	if msg.Type == "" {
		return apperrors.NewInvalidInputError("message type is required")
	}

	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, string(c.session.EventID()), string(c.session.Role()))
	defer span.End()

	err := c.dispatch(msg)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (c *connection) dispatch(msg ClientMessage) error {
	s := c.session

	switch msg.Type {
	case MessageSelect, MessagePointerDown:
		var p ItemRefPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		return s.Select(p.ID)

	case MessageClearSelection:
		return s.ClearSelection()

	case MessageDragStart:
		return s.BeginDrag()

	case MessageDragStop:
		var p DragStopPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		_, err := s.EndDrag(p.X, p.Y)
		return err

	case MessageResizeStart:
		return s.BeginResize()

	case MessageResizeStop:
		var p ResizeStopPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		_, err := s.EndResize(domain.ItemPatch{Width: p.Width, Height: p.Height, X: p.X, Y: p.Y})
		return err

	case MessageAddItem:
		var p AddItemPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		if err := validation.ValidateText(p.Text, "text"); err != nil {
			return apperrors.NewInvalidInputError(err.Error())
		}
		_, err := s.Add(p.Type, p.Text)
		return err

	case MessageUpdateItem:
		var p UpdateItemPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		if p.Props.Text != nil {
			if err := validation.ValidateText(*p.Props.Text, "text"); err != nil {
				return apperrors.NewInvalidInputError(err.Error())
			}
		}
		_, err := s.Update(p.ID, p.Props)
		return err

	case MessageRemoveItem:
		var p ItemRefPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		return s.Remove(p.ID)

	case MessageRenameSource:
		var p RenameSourcePayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		for field, v := range map[string]*string{"name": p.Name, "email": p.Email} {
			if v == nil {
				continue
			}
			if err := validation.ValidateText(*v, field); err != nil {
				return apperrors.NewInvalidInputError(err.Error())
			}
		}
		return s.RenameSource(p.Name, p.Email)

	case MessageSetVideo:
		var p SetVideoPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		if err := validation.ValidateVideoEventID(p.VimeoEventID); err != nil {
			return apperrors.NewInvalidInputError(err.Error())
		}
		return s.SetVideoEventID(p.VimeoEventID)

	default:
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

var errMissingPayload = errors.New("payload is required")

func decodePayload(msg ClientMessage, v interface{}) error {
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return apperrors.WrapError(errMissingPayload, apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("invalid %s payload", msg.Type), http.StatusBadRequest)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("invalid %s payload", msg.Type), http.StatusBadRequest)
	}
	return nil
}
