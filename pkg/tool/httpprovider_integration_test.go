package tool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lumen-lang/lumen/pkg/trace"
	"github.com/lumen-lang/lumen/pkg/value"
)

// TestHTTPProviderAgainstContainer exercises the full dispatch path
// (policy validation, provider invocation, trace event) against a real
// HTTP server in a throwaway container.
func TestHTTPProviderAgainstContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "nginx:alpine",
		ExposedPorts: []string{"80/tcp"},
		WaitingFor:   wait.ForHTTP("/").WithStartupTimeout(60 * time.Second),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "80")
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.Register("Fetch", NewHTTPProvider(10*time.Second)))
	reg.Freeze()

	log := trace.NewLog("itest", false)
	d := NewDispatcher(reg, map[string]Policy{
		"Fetch": {DomainGlobs: []string{host, "localhost", "127.0.0.1"}},
	}, log)

	input := value.Map(
		[]string{"url"},
		[]value.Value{value.String(fmt.Sprintf("http://%s:%s/", host, port.Port()))},
	)
	out, err := d.Call("Fetch", input)
	require.NoError(t, err)

	status, ok := out.MapGet("status")
	require.True(t, ok)
	assert.Equal(t, int64(200), status.AsInt())
	body, _ := out.MapGet("body")
	assert.Contains(t, body.AsString(), "nginx")

	events := log.Events()
	require.Len(t, events, 1)
	assert.Equal(t, trace.KindToolCall, events[0].Kind)
}
