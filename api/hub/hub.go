// Package hub keeps track of live client connections and the tasks each of
// them follows, and fans task updates out to the followers.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"taskManager/api/dto"
	"taskManager/api/locks"
	"taskManager/api/models"
	"taskManager/api/validation"
)

var (
	ErrConnectionExists  = errors.New("connection already registered")
	ErrConnectionUnknown = errors.New("connection not registered")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrSendBufferFull    = errors.New("send buffer full")
	ErrHubClosed         = errors.New("hub closed")
)

// Conn is the transport side of one client connection. Send must not block
// on the network; a returned error marks the connection as stale.
type Conn interface {
	Send(msg []byte) error
	Close() error
}

// SnapshotSource returns the current state of a task, or nil when the task
// does not exist.
type SnapshotSource interface {
	Snapshot(ctx context.Context, taskID string) (*dto.TaskUpdate, error)
}

type Hub struct {
	logger *zap.Logger
	source SnapshotSource

	mu     sync.Mutex
	conns  map[string]Conn
	byTask map[string]map[string]struct{}
	byConn map[string]map[string]struct{}
	closed bool

	// taskLocks orders subscribe snapshots against live publishes per task.
	taskLocks *locks.Keyed
}

func New(source SnapshotSource, logger *zap.Logger) *Hub {
	return &Hub{
		logger:    logger,
		source:    source,
		conns:     make(map[string]Conn),
		byTask:    make(map[string]map[string]struct{}),
		byConn:    make(map[string]map[string]struct{}),
		taskLocks: locks.NewKeyed(),
	}
}

// Client is the handle returned by Connect.
type Client struct {
	ID  string
	hub *Hub
}

func (c *Client) Receive(ctx context.Context, raw []byte) {
	c.hub.Receive(ctx, c.ID, raw)
}

func (c *Client) Close() {
	c.hub.Disconnect(c.ID)
}

func (h *Hub) Connect(connectionID string, conn Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if _, exists := h.conns[connectionID]; exists {
		return nil, ErrConnectionExists
	}
	h.conns[connectionID] = conn
	h.byConn[connectionID] = make(map[string]struct{})

	h.logger.Info("Connection registered", zap.String("connection_id", connectionID))
	return &Client{ID: connectionID, hub: h}, nil
}

// Disconnect drops the connection and every subscription it holds. Calling
// it for an unknown id is a no-op.
func (h *Hub) Disconnect(connectionID string) {
	h.mu.Lock()
	conn, ok := h.conns[connectionID]
	if ok {
		h.removeLocked(connectionID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if err := conn.Close(); err != nil {
		h.logger.Debug("Close connection", zap.String("connection_id", connectionID), zap.Error(err))
	}
	h.logger.Info("Connection removed", zap.String("connection_id", connectionID))
}

func (h *Hub) removeLocked(connectionID string) {
	for taskID := range h.byConn[connectionID] {
		subs := h.byTask[taskID]
		delete(subs, connectionID)
		if len(subs) == 0 {
			delete(h.byTask, taskID)
		}
	}
	delete(h.byConn, connectionID)
	delete(h.conns, connectionID)
}

// Subscribe registers interest in taskID and immediately sends the task's
// current state when it exists, ahead of any later live update.
func (h *Hub) Subscribe(ctx context.Context, connectionID, taskID string) error {
	unlock := h.taskLocks.Lock(taskID)
	defer unlock()

	h.mu.Lock()
	if _, ok := h.conns[connectionID]; !ok {
		h.mu.Unlock()
		return ErrConnectionUnknown
	}
	h.byConn[connectionID][taskID] = struct{}{}
	subs, ok := h.byTask[taskID]
	if !ok {
		subs = make(map[string]struct{})
		h.byTask[taskID] = subs
	}
	subs[connectionID] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Subscribed",
		zap.String("connection_id", connectionID),
		zap.String("task_id", taskID),
	)

	if h.source == nil {
		return nil
	}
	snapshot, err := h.source.Snapshot(ctx, taskID)
	if err != nil {
		h.logger.Warn("Load task snapshot",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return nil
	}
	if snapshot != nil {
		h.sendJSON(connectionID, snapshot)
	}
	return nil
}

func (h *Hub) Unsubscribe(connectionID, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.byTask[taskID]; ok {
		delete(subs, connectionID)
		if len(subs) == 0 {
			delete(h.byTask, taskID)
		}
	}
	if tasks, ok := h.byConn[connectionID]; ok {
		delete(tasks, taskID)
	}
}

// Publish delivers msg to every subscriber of taskID and returns how many
// sends succeeded. Connections whose send fails are removed after all
// others have been tried.
func (h *Hub) Publish(taskID string, msg []byte) int {
	unlock := h.taskLocks.Lock(taskID)
	defer unlock()

	type target struct {
		id   string
		conn Conn
	}

	h.mu.Lock()
	targets := make([]target, 0, len(h.byTask[taskID]))
	for id := range h.byTask[taskID] {
		targets = append(targets, target{id: id, conn: h.conns[id]})
	}
	h.mu.Unlock()

	var (
		delivered int
		stale     []string
	)
	for _, t := range targets {
		if err := t.conn.Send(msg); err != nil {
			h.logger.Warn("Deliver task update",
				zap.String("task_id", taskID),
				zap.String("connection_id", t.id),
				zap.Error(err),
			)
			stale = append(stale, t.id)
			continue
		}
		delivered++
	}

	for _, id := range stale {
		h.Disconnect(id)
	}
	return delivered
}

// Notify encodes update and publishes it to the task's subscribers.
func (h *Hub) Notify(ctx context.Context, update dto.TaskUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	h.Publish(update.TaskID, data)
	return nil
}

// SendDirect is a best-effort send to one connection; unknown ids are ignored.
func (h *Hub) SendDirect(connectionID string, msg []byte) {
	h.mu.Lock()
	conn, ok := h.conns[connectionID]
	h.mu.Unlock()

	if !ok {
		return
	}
	if err := conn.Send(msg); err != nil {
		h.logger.Warn("Direct send failed",
			zap.String("connection_id", connectionID),
			zap.Error(err),
		)
		h.Disconnect(connectionID)
	}
}

func (h *Hub) sendJSON(connectionID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Encode message", zap.Error(err))
		return
	}
	h.SendDirect(connectionID, data)
}

// Receive handles one inbound protocol message from a connection.
func (h *Hub) Receive(ctx context.Context, connectionID string, raw []byte) {
	msg, err := validation.ParseInbound(raw)
	if err != nil {
		h.sendJSON(connectionID, dto.ErrorMessage{Type: dto.MessageError, Message: err.Error()})
		return
	}

	switch msg.Type {
	case dto.MessageSubscribe:
		if !models.ValidTaskID(msg.TaskID) {
			h.sendJSON(connectionID, dto.ErrorMessage{Type: dto.MessageError, Message: "invalid task id: " + msg.TaskID})
			return
		}
		if err := h.Subscribe(ctx, connectionID, msg.TaskID); err != nil {
			h.logger.Warn("Subscribe failed",
				zap.String("connection_id", connectionID),
				zap.String("task_id", msg.TaskID),
				zap.Error(err),
			)
		}
	case dto.MessageUnsubscribe:
		h.Unsubscribe(connectionID, msg.TaskID)
	case dto.MessagePing:
		h.sendJSON(connectionID, dto.PongMessage{Type: dto.MessagePong})
	}
}

// Subscribers returns the connection ids following taskID.
func (h *Hub) Subscribers(taskID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.byTask[taskID]))
	for id := range h.byTask[taskID] {
		ids = append(ids, id)
	}
	return ids
}

// Subscriptions returns the task ids a connection follows.
func (h *Hub) Subscriptions(connectionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.byConn[connectionID]))
	for id := range h.byConn[connectionID] {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client and rejects new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := h.conns
	h.conns = make(map[string]Conn)
	h.byTask = make(map[string]map[string]struct{})
	h.byConn = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for id, conn := range conns {
		if err := conn.Close(); err != nil {
			h.logger.Debug("Close connection", zap.String("connection_id", id), zap.Error(err))
		}
	}
	h.logger.Info("Hub closed", zap.Int("connections", len(conns)))
}
