package mcp_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/fieldagg/pkg/mcp"
	"github.com/Sumatoshi-tech/fieldagg/pkg/observability"
)

func connect(t *testing.T, srv *mcp.Server) *mcpsdk.ClientSession {
	t.Helper()

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	serverDone := make(chan error, 1)

	go func() {
		serverDone <- srv.RunWithTransport(ctx, serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()

		cancel()
		<-serverDone
	})

	return session
}

func writeDataset(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "books.jsonl")
	content := `{"title": "ab", "tags": "go,rust"}
{"title": "abc", "tags": ["go", "zig"]}
{"title": "ab"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func textOf(t *testing.T, result *mcpsdk.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)

	return text.Text
}

func TestServer_ListToolNames(t *testing.T) {
	t.Parallel()

	srv := mcp.NewServer(mcp.ServerDeps{})

	assert.Equal(t, []string{mcp.ToolNameAggregate}, srv.ListToolNames())
}

func TestServer_ToolsList(t *testing.T) {
	t.Parallel()

	session := connect(t, mcp.NewServer(mcp.ServerDeps{}))

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)

	assert.Equal(t, mcp.ToolNameAggregate, tools.Tools[0].Name)
	assert.NotNil(t, tools.Tools[0].InputSchema)
}

func TestServer_CallAggregate(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	red, err := observability.NewREDMetrics(meter)
	require.NoError(t, err)

	session := connect(t, mcp.NewServer(mcp.ServerDeps{Metrics: red}))

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name: mcp.ToolNameAggregate,
		Arguments: map[string]any{
			"datasetId": writeDataset(t),
			"fields":    []string{"title", "tags"},
			"split":     map[string]string{"tags": ","},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, textOf(t, result))

	var body struct {
		Result map[string]struct {
			Values  []string `json:"values"`
			Count   int      `json:"count"`
			Average int      `json:"average"`
		} `json:"result"`
		Stats struct {
			Processed int `json:"processed"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &body))

	assert.Equal(t, []string{"ab", "abc"}, body.Result["title"].Values)
	assert.Equal(t, 3, body.Result["title"].Average)
	assert.Equal(t, []string{"go", "rust", "zig"}, body.Result["tags"].Values)
	assert.Equal(t, 3, body.Stats.Processed)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)
}

func TestServer_CallAggregate_ConfigurationError(t *testing.T) {
	t.Parallel()

	session := connect(t, mcp.NewServer(mcp.ServerDeps{}))

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameAggregate,
		Arguments: map[string]any{"datasetId": "books.json"},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), `missing required "fields" parameter`)
}

func TestServer_CallAggregate_MissingDataset(t *testing.T) {
	t.Parallel()

	session := connect(t, mcp.NewServer(mcp.ServerDeps{}))

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name: mcp.ToolNameAggregate,
		Arguments: map[string]any{
			"datasetId": filepath.Join(t.TempDir(), "missing.json"),
			"fields":    []string{"title"},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
