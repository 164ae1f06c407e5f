package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Connection is one live client channel attached to a room.
type Connection interface {
	ID() string
	RoomID() string
	Role() Role
	Send(data []byte) error
	Close() error
}

// Dispatcher receives the traffic the hub does not answer itself.
type Dispatcher interface {
	HandleConnect(conn Connection)
	HandleMessage(conn Connection, msg InboundMessage)
	HandleDisconnect(conn Connection, sessionID string)
}

// ConnInfo is a registry entry as seen by broadcasters.
type ConnInfo struct {
	Conn      Connection
	SessionID string
}

type connEntry struct {
	conn       Connection
	sessionID  string
	pingSentAt time.Time
}

// Hub is the connection registry. It maps connections to rooms and sessions
// and runs the ping/pong heartbeat. Nothing in it is persisted.
type Hub struct {
	mutex       sync.RWMutex
	rooms       map[string]map[string]*connEntry
	dispatcher  Dispatcher
	pongTimeout time.Duration
	now         func() time.Time
}

func NewHub(pongTimeout time.Duration) *Hub {
	return &Hub{
		rooms:       make(map[string]map[string]*connEntry),
		pongTimeout: pongTimeout,
		now:         time.Now,
	}
}

func (h *Hub) SetDispatcher(d Dispatcher) {
	h.mutex.Lock()
	h.dispatcher = d
	h.mutex.Unlock()
}

func (h *Hub) getDispatcher() Dispatcher {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.dispatcher
}

func (h *Hub) Register(conn Connection) {
	h.mutex.Lock()
	conns, ok := h.rooms[conn.RoomID()]
	if !ok {
		conns = make(map[string]*connEntry)
		h.rooms[conn.RoomID()] = conns
	}
	conns[conn.ID()] = &connEntry{conn: conn}
	total := len(conns)
	h.mutex.Unlock()

	log.Debug().Str("room", conn.RoomID()).Str("conn", conn.ID()).Str("role", string(conn.Role())).
		Int("connections", total).Msg("connection registered")

	if d := h.getDispatcher(); d != nil {
		d.HandleConnect(conn)
	}
}

func (h *Hub) remove(conn Connection) (*connEntry, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	conns, ok := h.rooms[conn.RoomID()]
	if !ok {
		return nil, false
	}
	entry, ok := conns[conn.ID()]
	if !ok {
		return nil, false
	}
	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(h.rooms, conn.RoomID())
	}
	return entry, true
}

// Unregister forgets a closed connection and routes it through the room's
// disconnect path. Calling it twice is harmless.
func (h *Hub) Unregister(conn Connection) {
	entry, ok := h.remove(conn)
	if !ok {
		return
	}
	log.Debug().Str("room", conn.RoomID()).Str("conn", conn.ID()).Str("session", entry.sessionID).Msg("connection unregistered")
	if d := h.getDispatcher(); d != nil {
		d.HandleDisconnect(conn, entry.sessionID)
	}
}

// Drop force-closes a connection that is dead or failing. The disconnect is
// dispatched asynchronously because Drop is called from inside room actors.
func (h *Hub) Drop(conn Connection, reason string) {
	entry, ok := h.remove(conn)
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Str("conn", conn.ID()).Msg("close failed")
	}
	if !ok {
		return
	}
	log.Warn().Str("room", conn.RoomID()).Str("conn", conn.ID()).Str("session", entry.sessionID).
		Str("reason", reason).Msg("connection dropped")
	if d := h.getDispatcher(); d != nil {
		go d.HandleDisconnect(conn, entry.sessionID)
	}
}

// BindSession attaches a session to a live connection. It reports false when
// the connection is no longer registered.
func (h *Hub) BindSession(conn Connection, sessionID string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	entry := h.lookup(conn)
	if entry == nil {
		return false
	}
	entry.sessionID = sessionID
	return true
}

func (h *Hub) SessionFor(conn Connection) string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if entry := h.lookup(conn); entry != nil {
		return entry.sessionID
	}
	return ""
}

func (h *Hub) lookup(conn Connection) *connEntry {
	if conns, ok := h.rooms[conn.RoomID()]; ok {
		return conns[conn.ID()]
	}
	return nil
}

// Connections enumerates every live connection of a room. Callers must not
// cache the result: connections may outlive a reload of the room.
func (h *Hub) Connections(roomID string) []ConnInfo {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	conns := h.rooms[roomID]
	infos := make([]ConnInfo, 0, len(conns))
	for _, entry := range conns {
		infos = append(infos, ConnInfo{Conn: entry.conn, SessionID: entry.sessionID})
	}
	return infos
}

// SessionConnected reports whether any other live connection is bound to
// the session.
func (h *Hub) SessionConnected(roomID, sessionID string, except Connection) bool {
	for _, info := range h.Connections(roomID) {
		if info.SessionID == sessionID && (except == nil || info.Conn.ID() != except.ID()) {
			return true
		}
	}
	return false
}

func (h *Hub) Count(roomID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[roomID])
}

// Route handles heartbeat acknowledgements and forwards everything else.
func (h *Hub) Route(conn Connection, msg InboundMessage) {
	if msg.Type == MsgPong {
		h.AckPong(conn)
		return
	}
	if d := h.getDispatcher(); d != nil {
		d.HandleMessage(conn, msg)
	}
}

func (h *Hub) AckPong(conn Connection) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if entry := h.lookup(conn); entry != nil {
		entry.pingSentAt = time.Time{}
	}
}

// Heartbeat pings every connection and drops the ones whose oldest
// unanswered ping is older than the pong timeout.
func (h *Hub) Heartbeat(now time.Time) {
	ping, err := json.Marshal(Message{Type: MsgPing, Payload: gin.H{"ts": now.UnixMilli()}})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal ping")
		return
	}

	var alive, expired []Connection
	h.mutex.Lock()
	for _, conns := range h.rooms {
		for _, entry := range conns {
			if !entry.pingSentAt.IsZero() && now.Sub(entry.pingSentAt) > h.pongTimeout {
				expired = append(expired, entry.conn)
				continue
			}
			if entry.pingSentAt.IsZero() {
				entry.pingSentAt = now
			}
			alive = append(alive, entry.conn)
		}
	}
	h.mutex.Unlock()

	for _, conn := range expired {
		h.Drop(conn, "pong timeout")
	}
	for _, conn := range alive {
		if err := conn.Send(ping); err != nil {
			h.Drop(conn, err.Error())
		}
	}
}

func (h *Hub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Heartbeat(h.now())
		}
	}
}

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var (
	errSendBufferFull   = &GameError{Code: "send_buffer_full", Message: "send buffer full"}
	errConnectionClosed = &GameError{Code: "connection_closed", Message: "connection closed"}
)

// Client is a websocket-backed Connection.
type Client struct {
	hub       *Hub
	id        string
	roomID    string
	role      Role
	socket    *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
}

// RegisterClient wires an upgraded socket into the hub and starts its pumps.
func (h *Hub) RegisterClient(conn *websocket.Conn, roomID string, role Role, limiter *rate.Limiter) *Client {
	client := &Client{
		hub:     h,
		id:      uuid.NewString(),
		roomID:  roomID,
		role:    role,
		socket:  conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		limiter: limiter,
	}

	h.Register(client)

	go client.writePump()
	go client.readPump()

	return client
}

func (c *Client) ID() string     { return c.id }
func (c *Client) RoomID() string { return c.roomID }
func (c *Client) Role() Role     { return c.role }

func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return errConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.socket.Close()
	})
	return err
}

func (c *Client) sendError(gameErr *GameError) {
	data, err := json.Marshal(errorMessage(gameErr))
	if err != nil {
		return
	}
	_ = c.Send(data)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("room", c.roomID).Str("conn", c.id).Msg("websocket read error")
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError(ErrRateLimited)
			continue
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.sendError(ErrMalformedPayload.Withf("message must be a JSON object with a type"))
			continue
		}

		c.hub.Route(c, msg)
	}
}

func (c *Client) writePump() {
	defer c.socket.Close()

	for {
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		}
	}
}
