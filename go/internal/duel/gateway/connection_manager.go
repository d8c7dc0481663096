package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/rs/zerolog/log"
)

// Dispatcher receives the commands decoded from client frames.
type Dispatcher interface {
	Join(roomID, participantID, connectionID string)
	Typing(roomID, participantID string)
	Submit(roomID, participantID, code string)
	Disconnect(connectionID string)
}

// ConnectionManager manages WebSocket connections for duel rooms
type ConnectionManager struct {
	// Connection pools organized by room ID
	roomConnections map[string]map[*Connection]bool
	connections     map[string]*Connection
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock

	dispatcher Dispatcher

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// Binding set once a join is accepted, guarded by Manager.mu
	roomID        string
	participantID string

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a notification waiting to be delivered
type BroadcastMessage struct {
	RoomID       string
	Event        *DuelEvent
	Audience     duel.Audience
	Participant  string
	ConnectionID string
	Bind         *duel.Binding
}

// ConnectionStats summarizes active connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // submissions carry source code
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		connections:     make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetDispatcher sets where decoded client commands go. It must be called
// before the first connection is upgraded.
func (cm *ConnectionManager) SetDispatcher(d Dispatcher) {
	cm.dispatcher = d
}

// Start processes broadcast messages until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. The connection
// is not bound to any room until one of its joins is accepted.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn
	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and closes its send channel. It
// reports whether the connection was still registered.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn.ID]; !exists {
		return false
	}
	cm.unbindLocked(conn)
	delete(cm.connections, conn.ID)
	close(conn.Send)

	log.Info().
		Str("connection_id", conn.ID).
		Msg("connection unregistered")
	return true
}

// bind attaches the connection with connectionID to roomID as participantID,
// replacing any earlier binding. Unknown connections are ignored.
func (cm *ConnectionManager) bind(connectionID, roomID, participantID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, exists := cm.connections[connectionID]
	if !exists {
		return
	}
	cm.unbindLocked(conn)
	conn.roomID = roomID
	conn.participantID = participantID
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Str("participant_id", participantID).
		Int("room_connections", len(cm.roomConnections[roomID])).
		Msg("connection bound to room")
}

func (cm *ConnectionManager) unbindLocked(conn *Connection) {
	if conn.roomID == "" {
		return
	}
	if connections, ok := cm.roomConnections[conn.roomID]; ok {
		delete(connections, conn)
		if len(connections) == 0 {
			delete(cm.roomConnections, conn.roomID)
		}
	}
	conn.roomID = ""
	conn.participantID = ""
}

// binding returns the room and participant conn is bound to.
func (cm *ConnectionManager) binding(conn *Connection) (string, string) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return conn.roomID, conn.participantID
}

// Notify queues a duel notification for delivery. It never blocks the caller.
func (cm *ConnectionManager) Notify(roomID string, n duel.Notification) {
	event, err := NewDuelEvent(roomID, n.Type, n.Payload, cm.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to build event")
		return
	}

	message := BroadcastMessage{
		RoomID:       roomID,
		Event:        event,
		Audience:     n.Audience,
		Participant:  n.ParticipantID,
		ConnectionID: n.ConnectionID,
		Bind:         n.Bind,
	}

	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("room_id", roomID).
			Str("event_type", string(n.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast delivers a message to its audience
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	if message.Bind != nil {
		// the accepted joiner receives its own participant_joined
		cm.bind(message.Bind.ConnectionID, message.RoomID, message.Bind.ParticipantID)
	}

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	cm.mu.RLock()
	targets := cm.targetsLocked(message)
	var slow []*Connection
	for _, conn := range targets {
		select {
		case conn.Send <- eventData:
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		if cm.unregisterConnection(conn) {
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_id", message.RoomID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) targetsLocked(message BroadcastMessage) []*Connection {
	if message.Audience == duel.AudienceConnection {
		if conn, ok := cm.connections[message.ConnectionID]; ok {
			return []*Connection{conn}
		}
		return nil
	}

	var targets []*Connection
	for conn := range cm.roomConnections[message.RoomID] {
		switch message.Audience {
		case duel.AudienceOthers:
			if conn.participantID == message.Participant {
				continue
			}
		case duel.AudienceParticipant:
			if conn.participantID != message.Participant {
				continue
			}
		}
		targets = append(targets, conn)
	}
	return targets
}

// sendDirect writes an event to one connection if it is still registered.
func (cm *ConnectionManager) sendDirect(conn *Connection, event *DuelEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal direct event")
		return
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if _, ok := cm.connections[conn.ID]; !ok {
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, dropping direct event")
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.connections),
		ActiveRooms:      len(cm.roomConnections),
		RoomConnections:  make(map[string]int, len(cm.roomConnections)),
	}
	for roomID, connections := range cm.roomConnections {
		stats.RoomConnections[roomID] = len(connections)
	}
	return stats
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		conn.Conn.Close()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client frames until the socket closes, then reports the
// disconnect.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
		if d := c.Manager.dispatcher; d != nil {
			d.Disconnect(c.ID)
		}
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage decodes a frame and dispatches it
func (c *Connection) handleClientMessage(raw []byte) {
	msg, err := ParseClientMessage(raw)
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("rejected client message")
		c.sendError(events.ErrorCodeBadMessage, err.Error())
		return
	}

	d := c.Manager.dispatcher
	if d == nil {
		log.Error().Str("connection_id", c.ID).Msg("no dispatcher configured")
		return
	}

	roomID, participantID := msg.Data.RoomID, msg.Data.ParticipantID
	if msg.Type != ClientMessageJoin {
		// typing and submit fall back to the identity bound by join
		boundRoom, boundParticipant := c.Manager.binding(c)
		if roomID == "" {
			roomID = boundRoom
		}
		if participantID == "" {
			participantID = boundParticipant
		}
	}

	switch msg.Type {
	case ClientMessageJoin:
		if roomID == "" {
			c.sendError(events.ErrorCodeBadMessage, "room_id is required")
			return
		}
		// bound only once the join is accepted, see handleBroadcast
		d.Join(roomID, participantID, c.ID)
	case ClientMessageTyping:
		d.Typing(roomID, participantID)
	case ClientMessageSubmit:
		d.Submit(roomID, participantID, msg.Data.Code)
	}
}

func (c *Connection) sendError(code, message string) {
	roomID, _ := c.Manager.binding(c)
	event, err := NewDuelEvent(roomID, events.EventTypeError, events.ErrorPayload{Code: code, Message: message}, c.Manager.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build error event")
		return
	}
	c.Manager.sendDirect(c, event)
}

var errNoDispatcher = errors.New("gateway has no dispatcher")
