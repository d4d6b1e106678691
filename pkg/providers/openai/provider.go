package openaiprovider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ioperator-ai/relay/pkg/providers/protocoltypes"
)

type (
	Turn    = protocoltypes.Turn
	Options = protocoltypes.Options
)

const defaultModel = "gpt-4o-mini"

type Provider struct {
	client *openai.Client
	model  string
}

func NewProvider(apiKey, model string) *Provider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewProviderWithClient(&client, model)
}

func NewProviderWithClient(client *openai.Client, model string) *Provider {
	if model == "" {
		model = defaultModel
	}
	return &Provider{client: client, model: model}
}

func (p *Provider) Complete(ctx context.Context, turns []Turn, opts Options) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, buildParams(turns, p.model, opts))
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	return parseResponse(resp)
}

func buildParams(turns []Turn, model string, opts Options) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case protocoltypes.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case protocoltypes.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	return params
}

func parseResponse(resp *openai.ChatCompletion) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
