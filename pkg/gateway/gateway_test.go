package gateway

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ioperator-ai/relay/pkg/session"
)

func newTestGateway(t *testing.T) (*Gateway, *session.Store, *httptest.Server) {
	t.Helper()
	store := session.NewStore(30 * time.Minute)
	gw := New(store, "http://localhost:5173")
	server := httptest.NewServer(gw)
	t.Cleanup(server.Close)
	return gw, store, server
}

func wsURL(server *httptest.Server, sessionID string) string {
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	if sessionID == "" {
		return url
	}
	return url + "?sessionId=" + sessionID
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != code {
		t.Errorf("close code = %d, want %d", closeErr.Code, code)
	}
}

func TestConnect_SendsConnectedFrame(t *testing.T) {
	_, store, server := newTestGateway(t)
	sess := store.Create(nil)

	ws := dial(t, wsURL(server, sess.ID))
	frame := readFrame(t, ws)

	if frame.Type != FrameConnected {
		t.Fatalf("frame.Type = %q, want connected", frame.Type)
	}
	var payload struct {
		SessionID string `json:"sessionId"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.SessionID != sess.ID {
		t.Errorf("payload.sessionId = %q, want %q", payload.SessionID, sess.ID)
	}
	if payload.Timestamp == "" {
		t.Error("payload.timestamp empty")
	}
}

func TestConnect_MissingSessionID(t *testing.T) {
	_, _, server := newTestGateway(t)
	ws := dial(t, wsURL(server, ""))
	expectClose(t, ws, CloseMissingSessionID)
}

// vanishingResolver answers the first lookup from the store, then reports the
// session gone, standing in for a sweep landing between validation and bind.
type vanishingResolver struct {
	store *session.Store
	calls atomic.Int32
}

func (r *vanishingResolver) Get(id string) (*session.Session, error) {
	if r.calls.Add(1) > 1 {
		return nil, session.ErrSessionNotFound
	}
	return r.store.Get(id)
}

func TestConnect_SessionSweptDuringBind(t *testing.T) {
	store := session.NewStore(30 * time.Minute)
	sess := store.Create(nil)
	gw := New(&vanishingResolver{store: store}, "http://localhost:5173")
	server := httptest.NewServer(gw)
	t.Cleanup(server.Close)

	ws := dial(t, wsURL(server, sess.ID))
	expectClose(t, ws, CloseInvalidSession)

	if gw.IsConnected(sess.ID) {
		t.Error("orphan binding left for a swept session")
	}
	if gw.ConnectedCount() != 0 {
		t.Errorf("ConnectedCount = %d, want 0", gw.ConnectedCount())
	}
}

func TestConnect_InvalidSession(t *testing.T) {
	_, _, server := newTestGateway(t)
	ws := dial(t, wsURL(server, "not-a-session"))
	expectClose(t, ws, CloseInvalidSession)
}

func TestPushMessage_Delivered(t *testing.T) {
	gw, store, server := newTestGateway(t)
	sess := store.Create(nil)

	ws := dial(t, wsURL(server, sess.ID))
	readFrame(t, ws) // connected

	if !gw.PushMessage(sess.ID, "Здравствуйте!", map[string]any{"messageId": "m1", "type": "text"}) {
		t.Fatal("push returned false for bound socket")
	}

	frame := readFrame(t, ws)
	if frame.Type != FrameMessage {
		t.Fatalf("frame.Type = %q, want message", frame.Type)
	}
	var payload struct {
		Content   string `json:"content"`
		Sender    string `json:"sender"`
		MessageID string `json:"messageId"`
		Type      string `json:"type"`
	}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Content != "Здравствуйте!" || payload.Sender != "bot" || payload.MessageID != "m1" || payload.Type != "text" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestPush_UnboundSessionDropped(t *testing.T) {
	gw, store, _ := newTestGateway(t)
	sess := store.Create(nil)

	if gw.PushMessage(sess.ID, "hello", nil) {
		t.Error("push to session without socket should return false")
	}
}

func TestPushTyping(t *testing.T) {
	gw, store, server := newTestGateway(t)
	sess := store.Create(nil)

	ws := dial(t, wsURL(server, sess.ID))
	readFrame(t, ws)

	gw.PushTyping(sess.ID, true)
	frame := readFrame(t, ws)
	if frame.Type != FrameTyping {
		t.Fatalf("frame.Type = %q, want typing", frame.Type)
	}
	var payload struct {
		IsTyping bool `json:"isTyping"`
	}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !payload.IsTyping {
		t.Error("isTyping = false, want true")
	}
}

func TestRebind_ReplacesPriorSocket(t *testing.T) {
	gw, store, server := newTestGateway(t)
	sess := store.Create(nil)

	first := dial(t, wsURL(server, sess.ID))
	readFrame(t, first)

	second := dial(t, wsURL(server, sess.ID))
	readFrame(t, second)

	// The first socket gets closed by the rebind.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("first socket still readable after rebind")
	}

	if !gw.PushMessage(sess.ID, "for the second socket", nil) {
		t.Fatal("push after rebind failed")
	}
	frame := readFrame(t, second)
	if frame.Type != FrameMessage {
		t.Errorf("frame.Type = %q, want message", frame.Type)
	}

	if gw.ConnectedCount() != 1 {
		t.Errorf("ConnectedCount = %d, want 1", gw.ConnectedCount())
	}
}

func TestUnknownClientFrame_Ignored(t *testing.T) {
	gw, store, server := newTestGateway(t)
	sess := store.Create(nil)

	ws := dial(t, wsURL(server, sess.ID))
	readFrame(t, ws)

	if err := ws.WriteJSON(Frame{Type: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The connection must survive and keep delivering pushes.
	time.Sleep(50 * time.Millisecond)
	if !gw.PushMessage(sess.ID, "still alive", nil) {
		t.Error("connection dropped after unknown frame type")
	}
}

func TestClientClose_RemovesBinding(t *testing.T) {
	gw, store, server := newTestGateway(t)
	sess := store.Create(nil)

	ws := dial(t, wsURL(server, sess.ID))
	readFrame(t, ws)
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for gw.IsConnected(sess.ID) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if gw.IsConnected(sess.ID) {
		t.Error("binding survived client close")
	}

	// The session itself must survive socket teardown.
	if _, err := store.Get(sess.ID); err != nil {
		t.Errorf("session deleted on socket close: %v", err)
	}
}

func TestEvict_ClosesSocket(t *testing.T) {
	gw, store, server := newTestGateway(t)
	sess := store.Create(nil)

	ws := dial(t, wsURL(server, sess.ID))
	readFrame(t, ws)

	gw.Evict(sess.ID)

	if gw.IsConnected(sess.ID) {
		t.Error("binding survived eviction")
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("socket still readable after eviction")
	}
}
