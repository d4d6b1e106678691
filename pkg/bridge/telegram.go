package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog/log"

	"github.com/ioperator-ai/relay/pkg/session"
)

// TelegramChannel bridges linked sessions to a Telegram bot account. A chat
// becomes linked when its user opens the bot via the /start deep link carrying
// a session id; from then on messages typed in that chat are relayed to the
// session's websocket as bot-sender messages.
type TelegramChannel struct {
	bot    *telego.Bot
	store  *session.Store
	sink   ReplySink
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTelegramChannel(token string, store *session.Store, sink ReplySink) (*TelegramChannel, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &TelegramChannel{bot: bot, store: store, sink: sink}, nil
}

// Start begins long polling for updates until Stop or ctx cancellation.
func (t *TelegramChannel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	updates, err := t.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("starting telegram long polling: %w", err)
	}
	log.Info().Msg("telegram channel started")

	go func() {
		defer close(t.done)
		for update := range updates {
			if update.Message != nil {
				t.handleMessage(ctx, update.Message)
			}
		}
	}()
	return nil
}

// Stop halts long polling and waits for the update loop to drain.
func (t *TelegramChannel) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.done != nil {
		<-t.done
	}
}

// Send delivers text to a Telegram chat.
func (t *TelegramChannel) Send(ctx context.Context, chatID int64, text string) error {
	_, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		return fmt.Errorf("telegram send to chat %d: %w", chatID, err)
	}
	return nil
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *telego.Message) {
	chatID := msg.Chat.ID

	// /start <sessionId> links this chat to a relay session.
	if sessionID, ok := startPayload(msg.Text); ok {
		if err := t.store.LinkChat(sessionID, chatID); err != nil {
			log.Warn().Int64("chat_id", chatID).Str("session_id", sessionID).Msg("link for unknown session")
			return
		}
		if err := t.Send(ctx, chatID, "Чат подключён к диалогу на сайте."); err != nil {
			log.Debug().Err(err).Int64("chat_id", chatID).Msg("link confirmation not sent")
		}
		return
	}

	sess, err := t.store.GetByChat(chatID)
	if err != nil {
		log.Debug().Int64("chat_id", chatID).Msg("message from unlinked chat")
		return
	}

	content, msgType, metadata := classify(msg)

	stored, err := t.store.Append(sess.ID, msgType, content, session.SenderBot, metadata)
	if err != nil {
		log.Debug().Str("session_id", sess.ID).Msg("session vanished while relaying telegram message")
		return
	}
	t.sink.PushMessage(sess.ID, content, map[string]any{
		"messageId": stored.ID,
		"type":      string(msgType),
	})
}

// classify maps a Telegram message onto the relay's message model.
func classify(msg *telego.Message) (string, session.MessageType, map[string]any) {
	switch {
	case msg.Voice != nil:
		return voiceContent, session.TypeVoice, map[string]any{
			"voiceFileId": msg.Voice.FileID,
			"duration":    msg.Voice.Duration,
		}
	case len(msg.Photo) > 0:
		content := msg.Caption
		if content == "" {
			content = imageContent
		}
		// The last size is the largest rendition.
		return content, session.TypeImage, map[string]any{
			"photoFileId": msg.Photo[len(msg.Photo)-1].FileID,
		}
	default:
		return msg.Text, session.TypeText, nil
	}
}

func startPayload(text string) (string, bool) {
	rest, ok := strings.CutPrefix(text, "/start ")
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}
