package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexusmind/orchestrator/core"
)

// messagesClient captures the subset of the Anthropic SDK used here, so tests
// can substitute a stub without making a network call.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicCollaborator implements Collaborator against Claude's Messages API
// via the official SDK. Analyze asks the model to emit a small JSON envelope
// of {intent, entities}; Synthesize asks it to narrate the collected tool
// outcomes against the original query.
type AnthropicCollaborator struct {
	msg    messagesClient
	model  string
	logger core.Logger
}

// NewAnthropicCollaborator builds a collaborator using apiKey and model
// (e.g. "claude-sonnet-4-5").
func NewAnthropicCollaborator(apiKey, model string, logger core.Logger) (*AnthropicCollaborator, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if model == "" {
		return nil, errors.New("anthropic model identifier is required")
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicCollaborator{msg: &client.Messages, model: model, logger: logger}, nil
}

func (c *AnthropicCollaborator) Analyze(ctx context.Context, text string) (AnalyzeResult, error) {
	prompt := fmt.Sprintf(
		`Analyze this user query and respond with ONLY a JSON object of the form `+
			`{"primary":"...","secondary":["..."],"confidence":0.0,"compound":false,`+
			`"entities":[{"kind":"...","surface":"...","resolved":null}]}.\n\nQuery: %s`,
		text,
	)

	raw, err := c.complete(ctx, prompt, 512)
	if err != nil {
		return AnalyzeResult{}, classify(err)
	}

	var parsed struct {
		Primary    string   `json:"primary"`
		Secondary  []string `json:"secondary"`
		Confidence float64  `json:"confidence"`
		Compound   bool     `json:"compound"`
		Entities   []struct {
			Kind     string      `json:"kind"`
			Surface  string      `json:"surface"`
			Resolved interface{} `json:"resolved"`
		} `json:"entities"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return AnalyzeResult{}, &Error{Kind: KindPermanent, Message: "malformed analysis response", Cause: err}
	}

	entities := make([]Entity, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		entities = append(entities, Entity{Kind: e.Kind, Surface: e.Surface, Resolved: e.Resolved})
	}

	return AnalyzeResult{
		Intent: Intent{
			Primary:    parsed.Primary,
			Secondary:  parsed.Secondary,
			Confidence: parsed.Confidence,
			Compound:   parsed.Compound,
		},
		Entities: entities,
	}, nil
}

func (c *AnthropicCollaborator) Synthesize(ctx context.Context, query string, outcomes []ToolOutcome, history []ConversationTurn) (SynthesizeResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %s\n\nTool results:\n", query)
	for _, o := range outcomes {
		status := "succeeded"
		if !o.Succeeded {
			status = "failed: " + o.Error
		}
		fmt.Fprintf(&b, "- %s (%s): %v\n", o.ToolName, status, o.Output)
	}
	b.WriteString("\nWrite a concise, direct answer to the original query using the successful results.")

	raw, err := c.complete(ctx, b.String(), 1024)
	if err != nil {
		return SynthesizeResult{}, classify(err)
	}

	sources := make([]Source, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Succeeded {
			sources = append(sources, Source{Name: o.ToolName})
		}
	}
	return SynthesizeResult{Text: raw, Sources: sources}, nil
}

func (c *AnthropicCollaborator) complete(ctx context.Context, prompt string, maxTokens int64) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// classify maps a raw SDK/transport error into our typed taxonomy. The SDK
// surfaces rate-limit and overload conditions as distinguishable error
// strings; anything else involving context deadlines or connection failures
// is treated as transient and safe to retry, everything else as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429"):
		return &Error{Kind: KindQuotaExceeded, Message: "rate limited", Cause: err}
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") || errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTransient, Message: "transient provider failure", Cause: err}
	default:
		return &Error{Kind: KindPermanent, Message: "provider call failed", Cause: err}
	}
}

// extractJSON trims any leading/trailing prose the model may have added
// around the JSON object, taking the substring from the first '{' to the
// last '}'.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
