package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/auth"
	"github.com/lexiclash/core/internal/dispatcher"
	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/metrics"
	"github.com/lexiclash/core/internal/ratelimit"
	"github.com/lexiclash/core/internal/reconnect"
	"github.com/lexiclash/core/internal/registry"
	"github.com/lexiclash/core/internal/room"
)

// TokenValidator authenticates a bearer token, satisfied by both
// *auth.Validator (Auth0/JWKS) and *auth.MockValidator (dev mode).
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// Hub is the transport layer's connection registry and dispatcher.
// RoomBroadcaster implementation (spec §4.1 item 1). Grounded on the
// teacher's Hub (internal/v1/transport/hub.go), generalized: the teacher's
// Hub owns the room map itself, but LexiClash's room.Store and
// registry.Registry already own that state, so this Hub only tracks live
// *Client handles by connection id and resolves room membership through
// them at broadcast time.
type Hub struct {
	validator    TokenValidator
	dispatcher   *dispatcher.Dispatcher
	registry     *registry.Registry
	rooms        *room.Store
	reconnectCtl *reconnect.Controller
	rateLimit    *ratelimit.RateLimiter
	allowedOrigins []string
	log          *zap.Logger

	mu           sync.RWMutex
	conns        map[domain.ConnectionID]*Client
	shuttingDown bool
}

// NewHub builds a Hub with everything it needs except its Dispatcher and
// Reconnection Controller — those two depend on the Hub itself as their
// RoomBroadcaster, so the cycle is broken by constructing the Hub first and
// wiring them in afterward via SetDispatcher/SetReconnectController, before
// the HTTP server starts accepting connections.
func NewHub(
	validator TokenValidator,
	reg *registry.Registry,
	rooms *room.Store,
	rateLimit *ratelimit.RateLimiter,
	allowedOrigins []string,
	log *zap.Logger,
) *Hub {
	return &Hub{
		validator: validator, registry: reg, rooms: rooms,
		rateLimit: rateLimit, allowedOrigins: allowedOrigins, log: log,
		conns: map[domain.ConnectionID]*Client{},
	}
}

// SetDispatcher wires the Dispatcher this Hub feeds decoded frames into.
// Must be called before ServeWs starts accepting connections.
func (h *Hub) SetDispatcher(d *dispatcher.Dispatcher) { h.dispatcher = d }

// SetReconnectController wires the controller handleDisconnect hands
// abrupt socket closures to. Must be called before ServeWs starts
// accepting connections.
func (h *Hub) SetReconnectController(c *reconnect.Controller) { h.reconnectCtl = c }

// BroadcastToRoom implements dispatcher.RoomBroadcaster: send event/payload
// to every connection currently registered for code's participants.
func (h *Hub) BroadcastToRoom(code domain.RoomCode, event string, payload any) {
	for _, c := range h.connsInRoom(code) {
		c.Send(dispatcher.OutboundMessage{Event: dispatcher.Event(event), Payload: payload})
	}
}

// BroadcastToRoomExcept implements dispatcher.RoomBroadcaster: like
// BroadcastToRoom but skips the connection named by except (used when the
// triggering connection already got its own direct reply).
func (h *Hub) BroadcastToRoomExcept(code domain.RoomCode, event string, payload any, except domain.ConnectionID) {
	for connID, c := range h.connsInRoom(code) {
		if connID == except {
			continue
		}
		c.Send(dispatcher.OutboundMessage{Event: dispatcher.Event(event), Payload: payload})
	}
}

// SendToParticipant implements dispatcher.RoomBroadcaster: a direct reply
// to one named participant of a room, regardless of the triggering
// connection.
func (h *Hub) SendToParticipant(code domain.RoomCode, name domain.ParticipantName, event string, payload any) {
	connID, ok := h.registry.ByRoomParticipant(code, name)
	if !ok {
		return
	}
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c != nil {
		c.Send(dispatcher.OutboundMessage{Event: dispatcher.Event(event), Payload: payload})
	}
}

// connsInRoom resolves code's current JoinOrder through the registry into
// live *Client handles, keyed by connection id.
func (h *Hub) connsInRoom(code domain.RoomCode) map[domain.ConnectionID]*Client {
	r := h.rooms.Get(code)
	if r == nil {
		return nil
	}
	r.Mu.Lock()
	names := append([]domain.ParticipantName{}, r.JoinOrder...)
	r.Mu.Unlock()

	out := make(map[domain.ConnectionID]*Client, len(names))
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, name := range names {
		connID, ok := h.registry.ByRoomParticipant(code, name)
		if !ok {
			continue
		}
		if c, ok := h.conns[connID]; ok {
			out[connID] = c
		}
	}
	return out
}

// ServeWs authenticates the caller and upgrades the request to a WebSocket
// connection, then hands it off to HandleConnection. Grounded on the
// teacher's Hub.ServeWs.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimit != nil && !h.rateLimit.CheckWebSocket(c) {
		return // CheckWebSocket already wrote the error response.
	}

	token, err := h.extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		return
	}

	h.HandleConnection(c.Request.Context(), conn, claims)
}

// HandleConnection registers a freshly upgraded socket, checks its owner
// for an in-flight multi-tab takeover, and starts its pumps.
func (h *Hub) HandleConnection(ctx context.Context, conn wsConnection, claims *auth.CustomClaims) {
	connID := domain.ConnectionID(uuid.NewString())
	authUserID := domain.AuthUserID(claims.Subject)

	client := newClient(conn, h, connID, authUserID, h.log)

	h.mu.Lock()
	down := h.shuttingDown
	if !down {
		h.conns[connID] = client
	}
	h.mu.Unlock()

	if down {
		client.close()
		return
	}

	metrics.IncConnection()

	go client.writePump()
	go client.readPump()
}

// handleDisconnect is readPump's cleanup callback: it resolves whatever
// room/role the closed connection last held and routes it through the
// Reconnection Controller's grace-period machinery rather than removing
// the participant immediately (spec §4.8). Connections that never joined a
// room simply drop out of the registry with no further effect.
func (h *Hub) handleDisconnect(c *Client) {
	defer metrics.DecConnection()
	c.close()

	h.mu.Lock()
	delete(h.conns, c.ConnID())
	h.mu.Unlock()

	entry, ok := h.registry.ByConn(c.ConnID())
	if !ok {
		return
	}
	r := h.rooms.Get(entry.RoomCode)
	if r == nil {
		return
	}

	if entry.IsHost {
		h.reconnectCtl.HandleHostDisconnect(r, time.Now())
	} else {
		h.reconnectCtl.HandlePlayerDisconnect(r, entry.Participant, time.Now())
	}
}

// extractToken pulls the bearer token out of the Sec-WebSocket-Protocol
// header, validating each comma-separated candidate until one passes.
// Grounded on the teacher's Hub.extractToken.
func (h *Hub) extractToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Sec-WebSocket-Protocol")
	if header == "" {
		return "", fmt.Errorf("token not provided")
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "access_token" {
			continue
		}
		if _, err := h.validator.ValidateToken(part); err == nil {
			return part, nil
		}
	}
	return "", fmt.Errorf("token not provided")
}

// validateOrigin checks the request's Origin header's scheme+host against
// allowedOrigins. An absent origin (non-browser clients) is allowed
// through. Grounded on the teacher's validateOrigin.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}
	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// upgradeWebSocket performs the HTTP->WebSocket upgrade, echoing back
// whichever subprotocol carried the token so the client's handshake
// completes. Grounded on the teacher's upgradeWebSocket.
func (h *Hub) upgradeWebSocket(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{New: func() any { return make([]byte, 4096) }},
	}

	responseHeader := http.Header{}
	if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
		responseHeader.Set("Sec-WebSocket-Protocol", strings.TrimSpace(strings.Split(protocol, ",")[0]))
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, responseHeader)
	if err != nil {
		if h.log != nil {
			h.log.Error("failed to upgrade websocket connection", zap.Error(err))
		}
		return nil, err
	}
	return conn, nil
}

// Shutdown broadcasts a serverShutdown frame to every live connection and
// closes them, blocking until ctx expires or every close completes.
// Grounded on the teacher's Hub.Shutdown.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shuttingDown = true
	conns := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Send(dispatcher.OutboundMessage{Event: dispatcher.EventServerShutdown})
	}

	done := make(chan struct{})
	go func() {
		// Give writePump a moment to flush the shutdown frame before the
		// socket is closed out from under it.
		time.Sleep(200 * time.Millisecond)
		for _, c := range conns {
			c.close()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
