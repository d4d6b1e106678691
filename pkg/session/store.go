// Package session owns the relay's in-memory state: active sessions, their
// ordered message logs, and the Telegram chat-id correlation. Everything here
// is ephemeral; an expired or deleted session is gone for good.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrSessionNotFound is returned for any absent or already-expired session.
// Callers must not distinguish the two cases.
var ErrSessionNotFound = errors.New("session not found")

// MessageType classifies a stored message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeVoice MessageType = "voice"
	TypeImage MessageType = "image"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Session correlates one browser client's conversation with optional external
// channel state. ChatID stays zero until a Telegram chat is linked.
type Session struct {
	ID           string         `json:"id"`
	ChatID       int64          `json:"chatId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActivity time.Time      `json:"lastActivity"`
	Metadata     map[string]any `json:"metadata"`
}

// Message is immutable once stored. Content holds the text, or a placeholder
// for binary payloads (voice, image).
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Sender    Sender         `json:"sender"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Evictor is notified when the TTL sweep removes a session, so dependent
// state (a live websocket binding, a conversation window) can be torn down
// together with the session.
type Evictor interface {
	Evict(sessionID string)
}

// EvictorFunc adapts a function to the Evictor interface.
type EvictorFunc func(sessionID string)

func (f EvictorFunc) Evict(sessionID string) { f(sessionID) }

// Store is the mutex-guarded session registry. The lock covers every map
// mutation and is never held across I/O; the sweep goroutine deletes through
// the same path as explicit deletion.
type Store struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	messages      map[string][]Message
	chatToSession map[int64]string

	ttl      time.Duration
	evictors []Evictor

	now func() time.Time // overridable in tests
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions:      make(map[string]*Session),
		messages:      make(map[string][]Message),
		chatToSession: make(map[int64]string),
		ttl:           ttl,
		now:           time.Now,
	}
}

// AddEvictor registers a hook invoked for sessions removed by the sweep.
func (s *Store) AddEvictor(e Evictor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictors = append(s.evictors, e)
}

// Create allocates a fresh session with the given metadata. Never fails.
func (s *Store) Create(metadata map[string]any) *Session {
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     metadata,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.messages[sess.ID] = []Message{}
	s.mu.Unlock()

	log.Info().Str("session_id", sess.ID).Msg("session created")
	return snapshot(sess)
}

// Get returns the session and touches its last-activity timestamp. A read
// counts as activity. A session idle past the TTL reads as absent even before
// the sweep collects it; callers cannot tell expired from never-existed.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := s.now()
	if now.Sub(sess.LastActivity) >= s.ttl {
		return nil, ErrSessionNotFound
	}
	sess.LastActivity = now
	return snapshot(sess), nil
}

// LinkChat records the bidirectional chat-id mapping, overwriting any prior
// mapping for that chat id so the bijection holds.
func (s *Store) LinkChat(sessionID string, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if prev, ok := s.chatToSession[chatID]; ok && prev != sessionID {
		if prevSess, ok := s.sessions[prev]; ok {
			prevSess.ChatID = 0
		}
	}
	if sess.ChatID != 0 && sess.ChatID != chatID {
		delete(s.chatToSession, sess.ChatID)
	}
	sess.ChatID = chatID
	s.chatToSession[chatID] = sessionID
	log.Info().Str("session_id", sessionID).Int64("chat_id", chatID).Msg("chat linked to session")
	return nil
}

// GetByChat resolves a Telegram chat id to its session, touching activity.
// Expired-but-unswept sessions read as absent, same as Get.
func (s *Store) GetByChat(chatID int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.chatToSession[chatID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := s.now()
	if now.Sub(sess.LastActivity) >= s.ttl {
		return nil, ErrSessionNotFound
	}
	sess.LastActivity = now
	return snapshot(sess), nil
}

// Append stores a new message in the session's log, assigning id and
// timestamp. Appends are serialized by the store lock, so log order equals
// arrival order.
func (s *Store) Append(sessionID string, typ MessageType, content string, sender Sender, metadata map[string]any) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Message{}, ErrSessionNotFound
	}
	msg := Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      typ,
		Content:   content,
		Sender:    sender,
		Timestamp: s.now(),
		Metadata:  metadata,
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	sess.LastActivity = msg.Timestamp
	return msg, nil
}

// Messages returns the session's log in insertion order. An absent session
// yields an empty slice, not an error: expiry is normal.
func (s *Store) Messages(sessionID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Delete removes the session, its log, and its chat mapping. Idempotent.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	deleted := s.deleteLocked(id)
	s.mu.Unlock()
	if deleted {
		log.Info().Str("session_id", id).Msg("session deleted")
	}
	return deleted
}

func (s *Store) deleteLocked(id string) bool {
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	if sess.ChatID != 0 {
		delete(s.chatToSession, sess.ChatID)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return true
}

// Len reports the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartSweep runs the TTL sweep every interval until ctx is canceled.
func (s *Store) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep deletes every session idle for at least the TTL and returns how many
// were removed. Evictor callbacks run after the lock is released.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) >= s.ttl {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.deleteLocked(id)
	}
	evictors := s.evictors
	s.mu.Unlock()

	for _, id := range expired {
		for _, e := range evictors {
			e.Evict(id)
		}
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("swept expired sessions")
	}
	return len(expired)
}

func snapshot(sess *Session) *Session {
	cp := *sess
	return &cp
}
