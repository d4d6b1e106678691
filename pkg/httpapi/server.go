// Package httpapi is the relay's HTTP ingress: session lifecycle endpoints,
// message submission, the health probe and the websocket upgrade path. All
// handlers are stateless; state lives in the session store.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ioperator-ai/relay/pkg/bridge"
	"github.com/ioperator-ai/relay/pkg/config"
	"github.com/ioperator-ai/relay/pkg/gateway"
	"github.com/ioperator-ai/relay/pkg/session"
)

type Server struct {
	cfg     *config.Config
	store   *session.Store
	bridge  *bridge.Bridge
	gateway *gateway.Gateway
	http    *http.Server
}

func NewServer(cfg *config.Config, store *session.Store, b *bridge.Bridge, gw *gateway.Gateway) *Server {
	s := &Server{cfg: cfg, store: store, bridge: b, gateway: gw}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", s.handleCreateSession)
	mux.HandleFunc("GET /api/session/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/session/{id}/messages", s.handleGetMessages)
	mux.HandleFunc("DELETE /api/session/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/message", s.handleSendMessage)
	mux.HandleFunc("POST /api/message/audio", s.handleSendAudio)
	mux.HandleFunc("POST /api/message/image", s.handleSendImage)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws", gw)

	s.http = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.recover(s.cors(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the full middleware-wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks until the listener stops.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("relay listening")
	return s.http.ListenAndServe()
}

// Shutdown closes the listener gracefully, then tears down every websocket.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.gateway.CloseAll()
	return err
}

// cors allows the configured frontend origin, with credentials.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && origin == s.cfg.Gateway.CORSOrigin {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recover turns handler panics into a logged 500 instead of a dead process.
func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Any("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type createSessionRequest struct {
	Metadata map[string]any `json:"metadata"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	WSURL     string `json:"wsUrl"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		// An empty or absent body is fine; metadata is optional.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sess := s.store.Create(req.Metadata)
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		WSURL:     s.wsURL(r, sess.ID),
	})
}

func (s *Server) wsURL(r *http.Request, sessionID string) string {
	base := s.cfg.Gateway.PublicWSURL
	if base == "" {
		scheme := "ws"
		if r.TLS != nil {
			scheme = "wss"
		}
		base = fmt.Sprintf("%s://%s/ws", scheme, r.Host)
	}
	return base + "?sessionId=" + sessionID
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           sess.ID,
		"createdAt":    sess.CreatedAt,
		"lastActivity": sess.LastActivity,
		"metadata":     sess.Metadata,
	})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	// An absent session yields an empty log, not a 404: expiry and deletion
	// are normal, and the widget polls this after teardown.
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.store.Messages(r.PathValue("id"))})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.bridge.EndSession(id) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	s.gateway.Evict(id)
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type sendAudioRequest struct {
	SessionID string `json:"sessionId"`
	Audio     string `json:"audio"`
	MimeType  string `json:"mimeType"`
}

type sendImageRequest struct {
	SessionID string `json:"sessionId"`
	Image     string `json:"image"`
	MimeType  string `json:"mimeType"`
	Caption   string `json:"caption"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "sessionId and message are required")
		return
	}

	userMsg, ok := s.bridge.SendMessage(r.Context(), req.SessionID, req.Message)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: userMsg.ID})
}

func (s *Server) handleSendAudio(w http.ResponseWriter, r *http.Request) {
	var req sendAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Audio == "" {
		writeError(w, http.StatusBadRequest, "sessionId and audio are required")
		return
	}
	if req.MimeType == "" {
		req.MimeType = "audio/ogg"
	}

	userMsg, ok := s.bridge.SendAudio(r.Context(), req.SessionID, req.Audio, req.MimeType)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: userMsg.ID})
}

func (s *Server) handleSendImage(w http.ResponseWriter, r *http.Request) {
	var req sendImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Image == "" {
		writeError(w, http.StatusBadRequest, "sessionId and image are required")
		return
	}
	if req.MimeType == "" {
		req.MimeType = "image/jpeg"
	}

	userMsg, ok := s.bridge.SendImage(r.Context(), req.SessionID, req.Image, req.MimeType, req.Caption)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: userMsg.ID})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"activeSessions":   s.store.Len(),
		"connectedClients": s.gateway.ConnectedCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		log.Debug().Err(err).Msg("writing response body")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
