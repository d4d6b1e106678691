// Package protocoltypes holds the provider-neutral conversation types shared
// by the concrete provider implementations.
package protocoltypes

import "context"

// Turn roles, matching the chat-completions convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged entry of a conversation window.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are per-call completion parameters. Zero values fall back to each
// provider's defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Provider issues one completion call for a conversation window and returns
// the assistant's text.
type Provider interface {
	Complete(ctx context.Context, turns []Turn, opts Options) (string, error)
}
