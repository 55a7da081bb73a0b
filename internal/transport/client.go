// Package transport is the WebSocket entrypoint (spec §4.1 item 1, §6 "Wire
// protocol"): it terminates client connections, decodes/encodes the JSON
// envelope, and feeds every inbound frame into dispatcher.Dispatch. Grounded
// on the teacher's internal/v1/transport (Client readPump/writePump pair,
// Hub connection registry and ServeWs flow), swapping the teacher's
// protobuf frame codec for JSON since this wire protocol is plain
// event/payload envelopes, not protobuf.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/dispatcher"
	"github.com/lexiclash/core/internal/domain"
)

// wsConnection is the subset of *websocket.Conn the Client needs, grounded
// on the teacher's wsConnection interface — kept narrow so tests can drive
// a Client against a fake without a real socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const writeWait = 10 * time.Second

// priorityEvents go onto their own channel, so a backlog of ordinary
// broadcasts cannot fill the queue they use. writePump selects between the
// two channels without preferring either, and a full priority channel drops
// the message with a logged warning, as the normal channel does.
var priorityEvents = map[dispatcher.Event]bool{
	dispatcher.EventError:           true,
	dispatcher.EventServerShutdown:  true,
	dispatcher.EventSessionTakenOver: true,
	dispatcher.EventSessionMigrated: true,
	dispatcher.EventHostDisconnected: true,
	dispatcher.EventHostTransferred: true,
}

// Client represents one live WebSocket connection and implements
// dispatcher.Conn. Grounded on the teacher's Client (internal/v1/transport/
// client.go): buffered send/prioritySend channels, a readPump/writePump
// goroutine pair, thread-safe identity fields.
type Client struct {
	conn wsConnection
	hub  *Hub
	log  *zap.Logger

	connID domain.ConnectionID

	mu              sync.RWMutex
	participantName domain.ParticipantName
	authUserID      domain.AuthUserID

	closeOnce sync.Once
	closed    bool

	send         chan dispatcher.OutboundMessage
	prioritySend chan dispatcher.OutboundMessage
}

func newClient(conn wsConnection, hub *Hub, connID domain.ConnectionID, authUserID domain.AuthUserID, log *zap.Logger) *Client {
	return &Client{
		conn: conn, hub: hub, log: log,
		connID: connID, authUserID: authUserID,
		send:         make(chan dispatcher.OutboundMessage, 256),
		prioritySend: make(chan dispatcher.OutboundMessage, 64),
	}
}

// ConnID implements dispatcher.Conn.
func (c *Client) ConnID() domain.ConnectionID { return c.connID }

// ParticipantName implements dispatcher.Conn. Empty until the first
// createRoom/join response names this connection.
func (c *Client) ParticipantName() domain.ParticipantName {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participantName
}

func (c *Client) setParticipantName(name domain.ParticipantName) {
	c.mu.Lock()
	c.participantName = name
	c.mu.Unlock()
}

// AuthUserID implements dispatcher.Conn.
func (c *Client) AuthUserID() domain.AuthUserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authUserID
}

// Send implements dispatcher.Conn: a non-blocking enqueue onto the
// appropriate channel, dropping on a full queue rather than blocking the
// dispatcher goroutine — matching the teacher's SendProto drop-and-log
// behavior for a saturated client.
func (c *Client) Send(msg dispatcher.OutboundMessage) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}

	ch := c.send
	if priorityEvents[msg.Event] {
		ch = c.prioritySend
	}
	select {
	case ch <- msg:
	default:
		if c.log != nil {
			c.log.Warn("dropping message onto full client channel",
				zap.String("connId", string(c.connID)), zap.String("event", string(msg.Event)))
		}
	}
}

// readPump decodes inbound JSON frames and feeds them to the Dispatcher.
// Grounded on the teacher's readPump: a blocking read loop whose exit
// always triggers cleanup, here the Hub's disconnect handling instead of
// the teacher's room.HandleClientDisconnect.
func (c *Client) readPump() {
	defer c.hub.handleDisconnect(c)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg dispatcher.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			if c.log != nil {
				c.log.Warn("failed to unmarshal inbound frame", zap.Error(err))
			}
			continue
		}

		if msg.Event == dispatcher.EventJoin || msg.Event == dispatcher.EventCreateRoom {
			c.captureParticipantName(msg)
		}

		c.hub.dispatcher.Dispatch(context.Background(), c, msg)
	}
}

// captureParticipantName reads the name/hostName field out of a join or
// createRoom payload before the frame is dispatched, so ParticipantName()
// reflects it even if the room then rejects the request. Best-effort: a
// malformed payload just leaves it unset.
func (c *Client) captureParticipantName(msg dispatcher.Message) {
	var p struct {
		Name     string `json:"name"`
		HostName string `json:"hostName"`
	}
	if json.Unmarshal(msg.Payload, &p) != nil {
		return
	}
	if p.Name != "" {
		c.setParticipantName(domain.ParticipantName(p.Name))
	} else if p.HostName != "" {
		c.setParticipantName(domain.ParticipantName(p.HostName))
	}
}

// writePump drains the priority and normal send queues onto the socket.
// Grounded on the teacher's writePump (select over two channels, per-write
// deadline), swapping BinaryMessage/proto.Marshal for TextMessage/json.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.prioritySend:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.writeJSON(msg) {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.writeJSON(msg) {
				return
			}
		}
	}
}

func (c *Client) writeJSON(msg dispatcher.OutboundMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		if c.log != nil {
			c.log.Error("failed to marshal outbound frame", zap.Error(err))
		}
		return true
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if c.log != nil {
			c.log.Debug("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// close marks the client closed and tears down its socket exactly once,
// mirroring the teacher's closeOnce-guarded Client.Disconnect.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.conn.Close()
	})
}
