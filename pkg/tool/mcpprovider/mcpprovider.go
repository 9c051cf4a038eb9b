// Package mcpprovider adapts an external MCP tool server into the
// tool.Provider contract: a configured server mount point is spawned
// over stdio and each Call issues a tools/call RPC against one of its
// exposed tools.
package mcpprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumen-lang/lumen/pkg/tool"
	"github.com/lumen-lang/lumen/pkg/value"
)

// Config describes one [providers.mcp.<server>] mount point: the
// command to spawn, its arguments, and the tool it exposes under the
// bound alias.
type Config struct {
	Command string
	Args    []string
	Env     []string
	Tool    string
	// EffectKinds the mounted tool contributes; defaults to {"mcp"}.
	EffectKinds []string
	Timeout     time.Duration
}

// Provider is the MCP-backed tool.Provider.
type Provider struct {
	cfg    Config
	client *client.Client
	name   string
	ver    string
}

// New spawns the configured MCP server and completes the initialize
// handshake. The returned provider is ready for Call.
func New(cfg Config) (*Provider, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcp provider: spawn %q: %w", cfg.Command, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "lumen", Version: "1.0.0"}
	initRes, err := c.Initialize(ctx, initReq)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp provider: initialize: %w", err)
	}

	return &Provider{
		cfg:    cfg,
		client: c,
		name:   initRes.ServerInfo.Name,
		ver:    initRes.ServerInfo.Version,
	}, nil
}

// Name returns the MCP server's self-reported name.
func (p *Provider) Name() string { return p.name }

// Version returns the MCP server's self-reported version.
func (p *Provider) Version() string { return p.ver }

// Schema reports the effect kinds the mount point was configured with.
func (p *Provider) Schema() tool.Schema {
	kinds := p.cfg.EffectKinds
	if len(kinds) == 0 {
		kinds = []string{"mcp"}
	}
	return tool.Schema{
		Input:       map[string]any{"type": "object"},
		Output:      map[string]any{"type": "string"},
		EffectKinds: kinds,
	}
}

// Call issues a tools/call against the mounted tool, flattening the
// input value's map entries into RPC arguments and concatenating the
// text content of the response.
func (p *Provider) Call(input value.Value) (value.Value, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()

	args := map[string]any{}
	for _, k := range input.MapKeys() {
		v, _ := input.MapGet(k)
		args[k] = valueToAny(v)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = p.cfg.Tool
	req.Params.Arguments = args
	res, err := p.client.CallTool(ctx, req)
	if err != nil {
		return value.Null, fmt.Errorf("mcp provider: tools/call %q: %w", p.cfg.Tool, err)
	}

	var text string
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			text += tc.Text
		}
	}
	if res.IsError {
		return value.Null, fmt.Errorf("mcp provider: tool error: %s", text)
	}
	return value.String(text), nil
}

// Close shuts the spawned server down.
func (p *Provider) Close() error {
	return p.client.Close()
}

func valueToAny(v value.Value) any {
	switch v.Kind() {
	case value.KNull:
		return nil
	case value.KBool:
		return v.AsBool()
	case value.KInt:
		return v.AsInt()
	case value.KFloat:
		return v.AsFloat()
	case value.KString:
		return v.AsString()
	case value.KList, value.KTuple:
		elems := v.AsList()
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = valueToAny(e)
		}
		return out
	case value.KMap, value.KRecord:
		out := map[string]any{}
		for _, k := range v.MapKeys() {
			e, _ := v.MapGet(k)
			out[k] = valueToAny(e)
		}
		return out
	default:
		return v.String()
	}
}
