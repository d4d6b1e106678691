package anthropicprovider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ioperator-ai/relay/pkg/providers/protocoltypes"
)

type (
	Turn    = protocoltypes.Turn
	Options = protocoltypes.Options
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

type Provider struct {
	client *anthropic.Client
	model  string
}

func NewProvider(apiKey, model string) *Provider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewProviderWithClient(&client, model)
}

func NewProviderWithClient(client *anthropic.Client, model string) *Provider {
	if model == "" {
		model = defaultModel
	}
	return &Provider{client: client, model: model}
}

func (p *Provider) Complete(ctx context.Context, turns []Turn, opts Options) (string, error) {
	resp, err := p.client.Messages.New(ctx, buildParams(turns, p.model, opts))
	if err != nil {
		return "", fmt.Errorf("anthropic messages call: %w", err)
	}
	return parseResponse(resp), nil
}

func buildParams(turns []Turn, model string, opts Options) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, turn := range turns {
		switch turn.Role {
		case protocoltypes.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: turn.Content})
		case protocoltypes.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}

	maxTokens := int64(defaultMaxTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	return params
}

func parseResponse(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			tb := block.AsText()
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}
