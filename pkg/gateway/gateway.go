// Package gateway is the websocket side of the relay: it binds one live
// connection per session id and pushes messages, typing indicators and
// connection events to the browser. Delivery is fire-and-forget; a push to an
// absent or closed socket is dropped, never queued.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ioperator-ai/relay/pkg/session"
)

// Close codes distinguishing the two refusal reasons.
const (
	CloseMissingSessionID = 4001
	CloseInvalidSession   = 4002
)

// Frame is the envelope for every server<->client message.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame types pushed to the client.
const (
	FrameConnected = "connected"
	FrameMessage   = "message"
	FrameTyping    = "typing"
	FrameError     = "error"
)

type conn struct {
	ws        *websocket.Conn
	sessionID string
	writeMu   sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// SessionResolver validates session ids for upgrade requests. The session
// store implements it.
type SessionResolver interface {
	Get(id string) (*session.Session, error)
}

// Gateway upgrades websocket connections and keeps the session-keyed
// connection registry. Connections are independent; the registry is the only
// shared state.
type Gateway struct {
	store    SessionResolver
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
}

// New builds a Gateway. allowedOrigin is matched against the Origin header of
// upgrade requests; requests without an Origin header (non-browser clients)
// are accepted.
func New(store SessionResolver, allowedOrigin string) *Gateway {
	return &Gateway{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		conns: make(map[string]*conn),
	}
}

// ServeHTTP handles the websocket upgrade. The session id must be present in
// the query and resolve to a live session; otherwise the socket is closed
// immediately with the matching close code.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		refuse(ws, CloseMissingSessionID, "Session ID required")
		return
	}
	if _, err := g.store.Get(sessionID); err != nil {
		refuse(ws, CloseInvalidSession, "Invalid session")
		return
	}

	c := &conn{ws: ws, sessionID: sessionID}
	g.bind(c)

	// A sweep can delete the session between the validation above and bind;
	// its eviction fires before the entry exists, leaving an orphan. Re-check
	// now that the binding is visible.
	if _, err := g.store.Get(sessionID); err != nil {
		g.unbind(c)
		refuse(ws, CloseInvalidSession, "Invalid session")
		return
	}
	log.Info().Str("session_id", sessionID).Msg("websocket connected")

	payload, _ := json.Marshal(map[string]any{
		"sessionId": sessionID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err := c.writeJSON(Frame{Type: FrameConnected, Payload: payload}); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("connected frame not delivered")
	}

	g.readLoop(c)
}

// bind registers the connection, replacing and closing any prior socket for
// the same session id.
func (g *Gateway) bind(c *conn) {
	g.mu.Lock()
	prev := g.conns[c.sessionID]
	g.conns[c.sessionID] = c
	g.mu.Unlock()

	if prev != nil {
		prev.ws.Close()
	}
}

// unbind removes the registry entry, but only if it still points at this
// connection: a replaced socket's close must not unbind its replacement.
func (g *Gateway) unbind(c *conn) {
	g.mu.Lock()
	if g.conns[c.sessionID] == c {
		delete(g.conns, c.sessionID)
	}
	g.mu.Unlock()
}

func (g *Gateway) readLoop(c *conn) {
	defer func() {
		g.unbind(c)
		c.ws.Close()
		log.Info().Str("session_id", c.sessionID).Msg("websocket disconnected")
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("session_id", c.sessionID).Msg("websocket read error")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug().Err(err).Str("session_id", c.sessionID).Msg("unparseable client frame")
			continue
		}
		switch frame.Type {
		case FrameTyping:
			// Client-side typing indicators have no server effect today.
		default:
			log.Debug().Str("session_id", c.sessionID).Str("type", frame.Type).Msg("unknown client frame type")
		}
	}
}

// push sends a frame to the session's bound socket. False means there was no
// open socket; the frame is dropped.
func (g *Gateway) push(sessionID string, frameType string, payload any) bool {
	g.mu.RLock()
	c := g.conns[sessionID]
	g.mu.RUnlock()
	if c == nil {
		return false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("marshaling frame payload")
		return false
	}
	if err := c.writeJSON(Frame{Type: frameType, Payload: raw}); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Str("type", frameType).Msg("websocket push dropped")
		return false
	}
	return true
}

// PushMessage delivers a bot message frame to the session's socket.
func (g *Gateway) PushMessage(sessionID, content string, metadata map[string]any) bool {
	payload := map[string]any{
		"content":   content,
		"sender":    "bot",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range metadata {
		payload[k] = v
	}
	return g.push(sessionID, FrameMessage, payload)
}

// PushTyping delivers a typing indicator.
func (g *Gateway) PushTyping(sessionID string, isTyping bool) {
	g.push(sessionID, FrameTyping, map[string]any{"isTyping": isTyping})
}

// PushError delivers an error frame.
func (g *Gateway) PushError(sessionID, message string) {
	g.push(sessionID, FrameError, map[string]any{
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// IsConnected reports whether the session currently has a bound socket.
func (g *Gateway) IsConnected(sessionID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.conns[sessionID]
	return ok
}

// ConnectedCount reports the number of bound sockets.
func (g *Gateway) ConnectedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Evict closes and removes the session's socket, if any. The session store
// calls this when the TTL sweep removes a session.
func (g *Gateway) Evict(sessionID string) {
	g.mu.Lock()
	c := g.conns[sessionID]
	delete(g.conns, sessionID)
	g.mu.Unlock()

	if c != nil {
		c.ws.Close()
	}
}

// CloseAll tears down every connection, for shutdown.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.conns = make(map[string]*conn)
	g.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

func refuse(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	err := ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Debug().Err(err).Int("code", code).Msg("writing refusal close frame")
	}
	ws.Close()
}
