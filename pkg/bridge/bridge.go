// Package bridge connects the relay's ingress to the conversation backend and
// the external Telegram channel. It records both sides of every exchange in
// the session store and delivers replies through a session-keyed sink, so the
// socket currently bound to a session always receives its reply.
package bridge

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ioperator-ai/relay/pkg/conversation"
	"github.com/ioperator-ai/relay/pkg/session"
)

// Placeholder contents stored for binary payloads.
const (
	voiceContent = "[Voice message]"
	imageContent = "[Image]"
)

// ReplySink receives asynchronous deliveries keyed by session id. The
// realtime gateway implements it.
type ReplySink interface {
	PushMessage(sessionID, content string, metadata map[string]any) bool
	PushTyping(sessionID string, isTyping bool)
	PushError(sessionID, message string)
}

// Bridge validates sessions, records messages and produces replies. Reply
// production runs asynchronously; the send operations return as soon as the
// user message is stored.
type Bridge struct {
	store    *session.Store
	conv     *conversation.Client
	sink     ReplySink
	telegram *TelegramChannel
}

func New(store *session.Store, conv *conversation.Client, sink ReplySink) *Bridge {
	return &Bridge{store: store, conv: conv, sink: sink}
}

// AttachTelegram wires an optional Telegram channel for chat-linked sessions.
func (b *Bridge) AttachTelegram(tc *TelegramChannel) {
	b.telegram = tc
}

// Start brings up the Telegram channel when one is attached.
func (b *Bridge) Start(ctx context.Context) error {
	if b.telegram == nil {
		log.Warn().Msg("no telegram channel configured, relaying over websocket only")
		return nil
	}
	return b.telegram.Start(ctx)
}

// Stop tears down the Telegram channel.
func (b *Bridge) Stop() {
	if b.telegram != nil {
		b.telegram.Stop()
	}
}

// EndSession removes the session and discards its conversation window.
// Returns false when the session does not exist.
func (b *Bridge) EndSession(sessionID string) bool {
	deleted := b.store.Delete(sessionID)
	b.conv.ClearHistory(sessionID)
	return deleted
}

// SendMessage relays a user text message. It returns the stored user message
// and true once the reply is underway; false only when the session does not
// exist, before any side effect.
func (b *Bridge) SendMessage(ctx context.Context, sessionID, text string) (session.Message, bool) {
	if _, err := b.store.Get(sessionID); err != nil {
		log.Warn().Str("session_id", sessionID).Msg("send to unknown session")
		return session.Message{}, false
	}

	userMsg, err := b.store.Append(sessionID, session.TypeText, text, session.SenderUser, nil)
	if err != nil {
		return session.Message{}, false
	}

	// The reply outlives the HTTP request that triggered it.
	bg := context.WithoutCancel(ctx)
	go b.produceReply(bg, sessionID, func(ctx context.Context) string {
		return b.conv.Reply(ctx, sessionID, text)
	})
	go b.forwardToChannel(bg, sessionID, text)

	return userMsg, true
}

// SendAudio relays a user voice message. The audio payload itself is not
// processed; a placeholder reaches the store and the text model.
func (b *Bridge) SendAudio(ctx context.Context, sessionID, _ string, mimeType string) (session.Message, bool) {
	if _, err := b.store.Get(sessionID); err != nil {
		log.Warn().Str("session_id", sessionID).Msg("audio to unknown session")
		return session.Message{}, false
	}

	userMsg, err := b.store.Append(sessionID, session.TypeVoice, voiceContent, session.SenderUser,
		map[string]any{"mimeType": mimeType})
	if err != nil {
		return session.Message{}, false
	}

	go b.produceReply(context.WithoutCancel(ctx), sessionID, func(ctx context.Context) string {
		return b.conv.ReplyToVoice(ctx, sessionID)
	})

	return userMsg, true
}

// SendImage relays a user image message, with an optional caption.
func (b *Bridge) SendImage(ctx context.Context, sessionID, _ string, mimeType, caption string) (session.Message, bool) {
	if _, err := b.store.Get(sessionID); err != nil {
		log.Warn().Str("session_id", sessionID).Msg("image to unknown session")
		return session.Message{}, false
	}

	content := imageContent
	if caption != "" {
		content = caption
	}
	userMsg, err := b.store.Append(sessionID, session.TypeImage, content, session.SenderUser,
		map[string]any{"mimeType": mimeType})
	if err != nil {
		return session.Message{}, false
	}

	go b.produceReply(context.WithoutCancel(ctx), sessionID, func(ctx context.Context) string {
		return b.conv.ReplyToImage(ctx, sessionID, caption)
	})

	return userMsg, true
}

// produceReply obtains the bot reply, stores it, and pushes it to the
// session's socket. The conversation client absorbs upstream failures, so the
// reply text is always deliverable.
func (b *Bridge) produceReply(ctx context.Context, sessionID string, reply func(context.Context) string) {
	b.sink.PushTyping(sessionID, true)

	text := reply(ctx)

	botMsg, err := b.store.Append(sessionID, session.TypeText, text, session.SenderBot, nil)
	if err != nil {
		// Session deleted mid-flight. If a socket somehow still holds the old
		// id, tell it the session is gone instead of going silent.
		log.Debug().Str("session_id", sessionID).Msg("reply arrived for deleted session")
		b.sink.PushError(sessionID, "Сессия завершена.")
		return
	}
	b.sink.PushMessage(sessionID, text, map[string]any{
		"messageId": botMsg.ID,
		"type":      string(botMsg.Type),
	})
}

// forwardToChannel mirrors the user's message to the linked Telegram chat,
// best effort.
func (b *Bridge) forwardToChannel(ctx context.Context, sessionID, text string) {
	if b.telegram == nil {
		return
	}
	sess, err := b.store.Get(sessionID)
	if err != nil || sess.ChatID == 0 {
		return
	}
	if err := b.telegram.Send(ctx, sess.ChatID, text); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Int64("chat_id", sess.ChatID).Msg("channel forward failed")
	}
}
