// Package conversation maintains the bounded per-session dialogue windows and
// turns user messages into replies via the configured completion provider.
// From the caller's perspective Reply never fails: every upstream problem is
// logged and converted into a fixed user-facing fallback.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ioperator-ai/relay/pkg/providers"
	"github.com/ioperator-ai/relay/pkg/providers/protocoltypes"
)

// User-facing fallback strings, in the product's primary locale.
const (
	FallbackError      = "Извините, произошла ошибка. Попробуйте ещё раз."
	FallbackConnection = "Извините, произошла ошибка соединения. Попробуйте позже."
	FallbackEmpty      = "Извините, не удалось получить ответ."
)

// Placeholder prompts for media messages. No transcription or vision runs at
// this layer; the text model only sees these markers.
const (
	voicePlaceholder        = "[Пользователь отправил голосовое сообщение]"
	imagePlaceholder        = "[Пользователь отправил изображение]"
	imageCaptionPlaceholder = "[Пользователь отправил изображение с подписью: %s]"
)

// DefaultSystemPrompt is the iOperator site operator instruction used when no
// SYSTEM_PROMPT override is configured.
const DefaultSystemPrompt = `Ты — виртуальный оператор iOperator.ai. Ты помогаешь посетителям сайта узнать больше о сервисе и отвечаешь на их вопросы.

iOperator.ai — платформа для создания AI-операторов для бизнеса: Telegram боты, веб-виджеты на сайте, WhatsApp (скоро). AI-оператор отвечает на вопросы клиентов 24/7, принимает заказы и бронирования, консультирует по меню, услугам и товарам, обрабатывает голосовые сообщения и работает на нескольких языках.

Тарифы: Starter (бесплатно, до 100 сообщений/месяц), Pro ($49/месяц, до 5000 сообщений и голосовые сообщения), Enterprise (индивидуально, безлимит).

Правила: отвечай дружелюбно и профессионально, будь краток, отвечай на языке пользователя, не выдумывай информацию, которой нет выше; если не знаешь ответ — предложи связаться с поддержкой.`

// maxWindowTurns caps each window at the system turn plus this many most
// recent user/assistant turns, bounding upstream payload size.
const maxWindowTurns = 20

// Client is the upstream conversation client. Windows are isolated per
// session; the provider call runs outside the window lock.
type Client struct {
	provider providers.Provider
	prompt   string
	timeout  time.Duration

	mu      sync.Mutex
	windows map[string][]providers.Turn
}

type Option func(*Client)

// WithSystemPrompt overrides the default operator instruction.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		if prompt != "" {
			c.prompt = prompt
		}
	}
}

// WithTimeout bounds each upstream call. Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func NewClient(provider providers.Provider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		prompt:   DefaultSystemPrompt,
		timeout:  30 * time.Second,
		windows:  make(map[string][]providers.Turn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reply appends the user turn to the session window, calls the provider with
// the full current window, records the assistant turn, and returns the reply
// text. Upstream failures of any kind come back as a fallback string, never
// as an error.
func (c *Client) Reply(ctx context.Context, sessionID, userText string) string {
	window := c.appendTurn(sessionID, protocoltypes.RoleUser, userText)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	text, err := c.provider.Complete(ctx, window, providers.Options{
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("upstream completion failed")
		if ctx.Err() != nil {
			return FallbackConnection
		}
		return FallbackError
	}
	if text == "" {
		log.Warn().Str("session_id", sessionID).Msg("upstream returned empty completion")
		return FallbackEmpty
	}

	c.appendTurn(sessionID, protocoltypes.RoleAssistant, text)
	return text
}

// ReplyToVoice feeds the fixed voice placeholder to the model.
func (c *Client) ReplyToVoice(ctx context.Context, sessionID string) string {
	return c.Reply(ctx, sessionID, voicePlaceholder)
}

// ReplyToImage feeds the image placeholder, including the caption if present.
func (c *Client) ReplyToImage(ctx context.Context, sessionID, caption string) string {
	prompt := imagePlaceholder
	if caption != "" {
		prompt = fmt.Sprintf(imageCaptionPlaceholder, caption)
	}
	return c.Reply(ctx, sessionID, prompt)
}

// ClearHistory discards the session's window. Used on session teardown.
func (c *Client) ClearHistory(sessionID string) {
	c.mu.Lock()
	delete(c.windows, sessionID)
	c.mu.Unlock()
}

// appendTurn adds a turn to the session window, creating it with the system
// instruction if absent and trimming to the cap, and returns a snapshot safe
// to use without the lock.
func (c *Client) appendTurn(sessionID, role, content string) []providers.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	window, ok := c.windows[sessionID]
	if !ok {
		window = []providers.Turn{{Role: protocoltypes.RoleSystem, Content: c.prompt}}
	}
	window = append(window, providers.Turn{Role: role, Content: content})

	// The system turn is never evicted; only the oldest exchanges go.
	if len(window) > maxWindowTurns+1 {
		trimmed := make([]providers.Turn, 0, maxWindowTurns+1)
		trimmed = append(trimmed, window[0])
		trimmed = append(trimmed, window[len(window)-maxWindowTurns:]...)
		window = trimmed
	}
	c.windows[sessionID] = window

	out := make([]providers.Turn, len(window))
	copy(out, window)
	return out
}
