package anthropicprovider

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ioperator-ai/relay/pkg/providers/protocoltypes"
)

func TestBuildParams_SystemSplit(t *testing.T) {
	turns := []Turn{
		{Role: protocoltypes.RoleSystem, Content: "Ты — оператор"},
		{Role: protocoltypes.RoleUser, Content: "привет"},
		{Role: protocoltypes.RoleAssistant, Content: "здравствуйте"},
	}
	params := buildParams(turns, "claude-sonnet-4-5", Options{MaxTokens: 500})

	if string(params.Model) != "claude-sonnet-4-5" {
		t.Errorf("Model = %q, want claude-sonnet-4-5", params.Model)
	}
	if len(params.System) != 1 {
		t.Fatalf("len(System) = %d, want 1", len(params.System))
	}
	if params.System[0].Text != "Ты — оператор" {
		t.Errorf("System[0].Text = %q", params.System[0].Text)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(params.Messages))
	}
	if params.MaxTokens != 500 {
		t.Errorf("MaxTokens = %d, want 500", params.MaxTokens)
	}
}

func TestBuildParams_DefaultMaxTokens(t *testing.T) {
	params := buildParams([]Turn{{Role: "user", Content: "hi"}}, "claude-sonnet-4-5", Options{})
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", params.MaxTokens, defaultMaxTokens)
	}
	if params.Temperature.Valid() {
		t.Error("Temperature should be unset")
	}
}

func TestParseResponse_ConcatenatesTextBlocks(t *testing.T) {
	resp := &anthropic.Message{}
	if got := parseResponse(resp); got != "" {
		t.Errorf("empty message parsed to %q", got)
	}
}

func TestNewProviderWithClient_DefaultModel(t *testing.T) {
	client := anthropic.NewClient()
	p := NewProviderWithClient(&client, "")
	if p.model != defaultModel {
		t.Errorf("model = %q, want %q", p.model, defaultModel)
	}
}
