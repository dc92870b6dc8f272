// Package realtime is the websocket gateway. Each connection authenticates
// with an access token during the handshake, is registered in the presence
// registry and can then join rooms and exchange direct and room messages.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/realtime-auth/internal/apperr"
	"github.com/iliyamo/realtime-auth/internal/config"
	"github.com/iliyamo/realtime-auth/internal/metrics"
	"github.com/iliyamo/realtime-auth/internal/middleware"
	"github.com/iliyamo/realtime-auth/internal/presence"
)

// Gateway accepts websocket connections and routes their events.
type Gateway struct {
	verifier middleware.AccessVerifier
	registry *presence.Registry
	rooms    *presence.Rooms
	cfg      config.RealtimeConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	upgrader websocket.Upgrader
	clients  sync.Map // connection id -> *client
	closing  atomic.Bool
}

func NewGateway(verifier middleware.AccessVerifier, registry *presence.Registry, rooms *presence.Rooms,
	cfg config.RealtimeConfig, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 1
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		verifier: verifier,
		registry: registry,
		rooms:    rooms,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// credentials travel as a bearer token, never as a cookie
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle upgrades GET /ws. The access token comes from the Authorization
// header or, for browser clients that cannot set headers, the token query
// parameter. Authentication failures are reported with an error event
// followed by a policy-violation close.
func (g *Gateway) Handle(c echo.Context) error {
	req := c.Request()
	token, ok := middleware.BearerToken(req)
	if !ok {
		token = strings.TrimSpace(c.QueryParam("token"))
	}

	conn, err := g.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// the upgrader has already answered with an HTTP error
		g.logger.Debug("realtime: upgrade failed", "error", err)
		return nil
	}

	var userID string
	switch {
	case token != "":
		claims, err := g.verifier.VerifyAccessToken(token)
		if err != nil {
			g.reject(conn, apperr.PublicMessage(err))
			return nil
		}
		userID = claims.UserID
	case !g.cfg.AllowAnonymous:
		g.reject(conn, "missing token")
		return nil
	}

	cl := &client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		gw:     g,
		send:   make(chan []byte, g.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	g.register(cl)

	go cl.writePump()
	cl.readPump()
	return nil
}

// Close disconnects every client. http.Server.Shutdown does not track
// hijacked connections, so the server calls this on the way down.
func (g *Gateway) Close() {
	g.closing.Store(true)
	g.clients.Range(func(_, v any) bool {
		v.(*client).close()
		return true
	})
}

func (g *Gateway) reject(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.TextMessage, encode(EventError, ErrorData{Message: reason}))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = conn.Close()
}

func (g *Gateway) register(cl *client) {
	g.metrics.ConnectionOpened()
	g.clients.Store(cl.id, cl)
	if g.closing.Load() {
		// Close may have ranged over clients before the Store above
		cl.close()
		return
	}

	cl.enqueue(encode(EventReady, Ready{UserID: cl.userID, ConnectionID: cl.id, Anonymous: cl.anonymous()}))
	if cl.anonymous() {
		g.logger.Info("realtime: anonymous observer connected", "connection_id", cl.id)
		return
	}

	g.logger.Info("realtime: connected", "connection_id", cl.id, "user_id", cl.userID)
	if g.registry.Register(cl.userID, cl.id) {
		g.metrics.UserOnline()
		g.broadcastPresence(cl, EventUserOnline)
	}
	if cl.isClosed() {
		// teardown ran before Register and could not undo it
		g.dropPresence(cl)
	}
}

func (g *Gateway) unregister(cl *client) {
	g.rooms.LeaveAll(cl.id)
	g.clients.Delete(cl.id)
	g.metrics.ConnectionClosed()

	if cl.anonymous() {
		return
	}
	g.logger.Info("realtime: disconnected", "connection_id", cl.id, "user_id", cl.userID)
	g.dropPresence(cl)
}

// dropPresence removes cl from the registry. Only the caller that empties
// the user's set announces the user offline.
func (g *Gateway) dropPresence(cl *client) {
	if g.registry.Unregister(cl.userID, cl.id) {
		g.metrics.UserOffline()
		g.broadcastPresence(cl, EventUserOffline)
	}
}

// broadcastPresence tells every other authenticated connection about
// cl's user going online or offline.
func (g *Gateway) broadcastPresence(cl *client, event string) {
	msg := encode(event, Presence{UserID: cl.userID})
	g.clients.Range(func(_, v any) bool {
		other := v.(*client)
		if other.id != cl.id && !other.anonymous() {
			other.enqueue(msg)
		}
		return true
	})
}

func (g *Gateway) dispatch(cl *client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		g.sendError(cl, "malformed event")
		return
	}
	g.metrics.RealtimeEvent(eventLabel(env.Event))

	switch env.Event {
	case EventRoomJoin:
		var p roomPayload
		if !decode(env.Data, &p) || strings.TrimSpace(p.RoomID) == "" {
			g.sendError(cl, "roomId required")
			return
		}
		g.rooms.Join(p.RoomID, cl.id)
		if cl.isClosed() {
			// LeaveAll may already have run for this connection
			g.rooms.Leave(p.RoomID, cl.id)
			return
		}
		cl.enqueue(encode(EventRoomJoined, RoomAck{RoomID: p.RoomID}))

	case EventRoomLeave:
		var p roomPayload
		if !decode(env.Data, &p) || strings.TrimSpace(p.RoomID) == "" {
			g.sendError(cl, "roomId required")
			return
		}
		g.rooms.Leave(p.RoomID, cl.id)
		cl.enqueue(encode(EventRoomLeft, RoomAck{RoomID: p.RoomID}))

	case EventDirectMessage:
		if cl.anonymous() {
			g.sendError(cl, "read-only connection")
			return
		}
		var p directPayload
		if !decode(env.Data, &p) || p.ToUserID == "" || p.Content == "" {
			g.sendError(cl, "toUserId and content required")
			return
		}
		msg := encode(EventDirectMessage, Message{From: cl.userID, Content: p.Content, Timestamp: g.timestamp()})
		// recipients without connections simply receive nothing
		g.deliver(g.registry.ConnectionsFor(p.ToUserID), cl.id, msg)

	case EventRoomMessage:
		if cl.anonymous() {
			g.sendError(cl, "read-only connection")
			return
		}
		var p roomMessagePayload
		if !decode(env.Data, &p) || p.RoomID == "" || p.Content == "" {
			g.sendError(cl, "roomId and content required")
			return
		}
		msg := encode(EventRoomMessage, Message{From: cl.userID, Content: p.Content, Timestamp: g.timestamp(), RoomID: p.RoomID})
		g.deliver(g.rooms.Members(p.RoomID), cl.id, msg)

	default:
		g.sendError(cl, "unknown event "+env.Event)
	}
}

// deliver enqueues msg on every listed connection except the sender's.
func (g *Gateway) deliver(connIDs []string, senderID string, msg []byte) {
	for _, id := range connIDs {
		if id == senderID {
			continue
		}
		if v, ok := g.clients.Load(id); ok {
			v.(*client).enqueue(msg)
		}
	}
}

// eventLabel bounds the metric label set to the known client events.
func eventLabel(event string) string {
	switch event {
	case EventRoomJoin, EventRoomLeave, EventDirectMessage, EventRoomMessage:
		return event
	default:
		return "unknown"
	}
}

func (g *Gateway) sendError(cl *client, message string) {
	cl.enqueue(encode(EventError, ErrorData{Message: message}))
}

func (g *Gateway) timestamp() string {
	return g.now().UTC().Format(time.RFC3339Nano)
}

func decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}
