// Package llm wraps the language model used for clinical documentation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

// ErrLLMUnavailable is returned when no model is configured or the provider
// call fails.
var ErrLLMUnavailable = errors.New("llm: unavailable")

// Request is a single-turn completion request.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int64
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// AnthropicGenerator calls the Anthropic Messages API.
type AnthropicGenerator struct {
	client anthropic.Client
	model  string
	logger zerolog.Logger
}

// NewAnthropic builds a generator. Extra options are passed to the SDK
// client (base URL, retries).
func NewAnthropic(apiKey, model string, logger zerolog.Logger, opts ...option.RequestOption) *AnthropicGenerator {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicGenerator{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger.With().Str("component", "llm").Logger(),
	}
}

func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}

	message, err := g.client.Messages.New(ctx, params)
	if err != nil {
		// SDK errors can quote the request, which carries transcripts.
		g.logger.Error().Str("model", g.model).Msg("anthropic request failed")
		return "", fmt.Errorf("%w: %s", ErrLLMUnavailable, errorKind(err))
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	g.logger.Debug().
		Str("model", g.model).
		Int64("tokens_in", message.Usage.InputTokens).
		Int64("tokens_out", message.Usage.OutputTokens).
		Msg("anthropic response")
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text content in response", ErrLLMUnavailable)
	}
	return sb.String(), nil
}

func errorKind(err error) string {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("status %d", apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err.Error()
	}
	return "transport error"
}

// Disabled is used when no API key is configured.
type Disabled struct{}

func (Disabled) Generate(context.Context, Request) (string, error) {
	return "", ErrLLMUnavailable
}

// New returns an Anthropic generator, or Disabled when apiKey is empty.
func New(apiKey, model string, logger zerolog.Logger) Generator {
	if apiKey == "" {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set; note generation disabled")
		return Disabled{}
	}
	return NewAnthropic(apiKey, model, logger)
}
