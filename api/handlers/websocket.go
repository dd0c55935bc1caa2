package handlers

import (
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taskManager/api/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// wsConn adapts a websocket connection to hub.Conn. Send only queues; a
// single writer goroutine owns all writes to the socket.
type wsConn struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newWSConn(conn *websocket.Conn, buffer int, logger *zap.Logger) *wsConn {
	return &wsConn{
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (w *wsConn) Send(msg []byte) error {
	select {
	case <-w.done:
		return hub.ErrConnectionClosed
	default:
	}

	select {
	case w.send <- msg:
		return nil
	case <-w.done:
		return hub.ErrConnectionClosed
	default:
		return hub.ErrSendBufferFull
	}
}

func (w *wsConn) Close() error {
	w.once.Do(func() { close(w.done) })
	return nil
}

func (w *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case msg := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				w.logger.Debug("WebSocket write failed", zap.Error(err))
				w.Close()
				return
			}
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				w.logger.Debug("WebSocket ping failed", zap.Error(err))
				w.Close()
				return
			}
		case <-w.done:
			w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

type WebSocketHandler struct {
	hub        *hub.Hub
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     *zap.Logger
}

// NewWebSocketHandler accepts connections from allowedOrigins; "*" allows any.
func NewWebSocketHandler(h *hub.Hub, allowedOrigins []string, sendBuffer int, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

func (h *WebSocketHandler) Register(r gin.IRoutes) {
	r.GET("/ws/tasks/:client_id", h.Handle)
}

// Handle upgrades the request and serves the subscription protocol until the
// client goes away.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	clientID := c.Param("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("connection_id", clientID), zap.Error(err))
		return
	}

	wc := newWSConn(conn, h.sendBuffer, h.logger.With(zap.String("connection_id", clientID)))
	client, err := h.hub.Connect(clientID, wc)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, hub.ErrConnectionExists) {
			code = websocket.ClosePolicyViolation
		}
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()), time.Now().Add(writeWait))
		conn.Close()
		h.logger.Warn("WebSocket rejected", zap.String("connection_id", clientID), zap.Error(err))
		return
	}
	defer client.Close()

	go wc.writePump()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := c.Request.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("WebSocket closed unexpectedly", zap.String("connection_id", clientID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		client.Receive(ctx, data)
	}
}
