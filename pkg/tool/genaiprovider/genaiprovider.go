// Package genaiprovider is the built-in llm-effect provider: a
// tool.Provider backed by the Gemini API. Grants gate it the same way
// they gate any other provider (model-name domain globs, max_tokens
// ceiling).
package genaiprovider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/lumen-lang/lumen/pkg/tool"
	"github.com/lumen-lang/lumen/pkg/value"
)

// Config configures the provider. APIKey is resolved from the
// environment by the config layer; it is never stored in a file.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Provider implements tool.Provider over the Gemini SDK.
type Provider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// New creates the provider. Returns an error when no API key is
// configured, so a missing credential surfaces at VM start instead of
// first call.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai provider: no API key configured")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-3-flash-preview"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai provider: create client: %w", err)
	}

	return &Provider{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// Name identifies the provider on trace events.
func (p *Provider) Name() string { return "genai" }

// Version reports the configured model, the meaningful version axis
// for a hosted API.
func (p *Provider) Version() string { return p.model }

// Schema declares the llm effect kind and the prompt-in/text-out shape.
func (p *Provider) Schema() tool.Schema {
	return tool.Schema{
		Input: map[string]any{
			"prompt":     "string",
			"max_tokens": "int?",
		},
		Output:      map[string]any{"text": "string"},
		EffectKinds: []string{"llm"},
	}
}

// Call generates a completion for the input's prompt field.
func (p *Provider) Call(input value.Value) (value.Value, error) {
	prompt, ok := input.MapGet("prompt")
	if !ok {
		if input.Kind() == value.KString {
			prompt = input
		} else {
			return value.Null, fmt.Errorf("genai provider: input needs a prompt field")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{}
	if mt, has := input.MapGet("max_tokens"); has && mt.Kind() == value.KInt {
		config.MaxOutputTokens = int32(mt.AsInt())
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt.AsString()), config)
	if err != nil {
		return value.Null, fmt.Errorf("generate content: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return value.Null, fmt.Errorf("empty response from API")
	}

	var text string
	if result.Candidates[0].Content != nil {
		for _, part := range result.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" {
				text += part.Text
			}
		}
	}
	if text == "" {
		return value.Null, fmt.Errorf("no text in response")
	}
	return value.String(text), nil
}
