package tool

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumen-lang/lumen/pkg/value"
)

// HTTPProvider is the built-in http-effect provider: a thin GET/POST
// client gated by the usual domain-glob grants. It exists so the
// policy path has a concrete transport to protect; anything richer
// belongs in an external MCP mount.
type HTTPProvider struct {
	client *http.Client
}

// NewHTTPProvider returns a provider with the given request timeout.
func NewHTTPProvider(timeout time.Duration) *HTTPProvider {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProvider) Name() string    { return "http" }
func (p *HTTPProvider) Version() string { return "1.0.0" }

func (p *HTTPProvider) Schema() Schema {
	return Schema{
		Input: map[string]any{
			"url":    "string",
			"method": "string?",
			"body":   "string?",
		},
		Output:      map[string]any{"status": "int", "body": "string"},
		EffectKinds: []string{"http"},
	}
}

// Call issues the request described by the input map and returns a
// {status, body} map.
func (p *HTTPProvider) Call(input value.Value) (value.Value, error) {
	urlVal, ok := input.MapGet("url")
	if !ok {
		return value.Null, fmt.Errorf("http provider: input needs a url field")
	}
	method := "GET"
	if m, has := input.MapGet("method"); has {
		method = strings.ToUpper(m.AsString())
	}
	var body io.Reader
	if b, has := input.MapGet("body"); has {
		body = strings.NewReader(b.AsString())
	}

	req, err := http.NewRequest(method, urlVal.AsString(), body)
	if err != nil {
		return value.Null, fmt.Errorf("http provider: build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return value.Null, fmt.Errorf("http provider: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return value.Null, fmt.Errorf("http provider: read response: %w", err)
	}
	return value.Map(
		[]string{"status", "body"},
		[]value.Value{value.Int(int64(resp.StatusCode)), value.String(string(data))},
	), nil
}
