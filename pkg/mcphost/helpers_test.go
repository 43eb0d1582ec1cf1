package mcphost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// upstreamTool declares one tool on an in-process upstream server.
type upstreamTool struct {
	name        string
	description string
	handler     mcp.ToolHandler
}

func newUpstreamHandler(name string, tools ...upstreamTool) http.Handler {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: "1.0.0"}, nil)
	for _, tool := range tools {
		server.AddTool(&mcp.Tool{
			Name:        tool.name,
			Description: tool.description,
			InputSchema: &jsonschema.Schema{Type: "object"},
		}, tool.handler)
	}
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

// newUpstream runs an in-process Streamable MCP server and returns the
// httptest server hosting it.
func newUpstream(t *testing.T, name string, tools ...upstreamTool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newUpstreamHandler(name, tools...))
	t.Cleanup(srv.Close)
	return srv
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// decodeArgs runs inside upstream handlers, which execute on server
// goroutines; it must return errors rather than fail the test directly.
func decodeArgs(req *mcp.CallToolRequest, out any) error {
	if req.Params == nil || req.Params.Arguments == nil {
		return fmt.Errorf("tool call carried no arguments")
	}
	raw, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

// arithmeticTool decodes {a, b} and returns op(a, b) as text, the same shape
// the bundled calculator-server produces.
func arithmeticTool(name string, op func(a, b float64) float64) upstreamTool {
	return upstreamTool{
		name:        name,
		description: name + " two numbers",
		handler: func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var in struct {
				A float64 `json:"a"`
				B float64 `json:"b"`
			}
			if err := decodeArgs(req, &in); err != nil {
				return nil, err
			}
			value := op(in.A, in.B)
			return &mcp.CallToolResult{
				Content:           []mcp.Content{&mcp.TextContent{Text: formatNumber(value)}},
				StructuredContent: value,
			}, nil
		},
	}
}

func formatNumber(v float64) string {
	encoded, _ := json.Marshal(v)
	return string(encoded)
}

// echoTool returns the "id" argument as text, letting tests verify responses
// are matched to the right request.
func echoTool(name string) upstreamTool {
	return upstreamTool{
		name:        name,
		description: "echo the id argument",
		handler: func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var in struct {
				ID    string `json:"id"`
				Delay int    `json:"delay_ms"`
			}
			if err := decodeArgs(req, &in); err != nil {
				return nil, err
			}
			if in.Delay > 0 {
				select {
				case <-time.After(time.Duration(in.Delay) * time.Millisecond):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return textResult(in.ID), nil
		},
	}
}

func staticTool(name, reply string) upstreamTool {
	return upstreamTool{
		name:        name,
		description: "return " + reply,
		handler: func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return textResult(reply), nil
		},
	}
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func startTestClient(t *testing.T, configs map[string]ServerConfig) (*Client, error) {
	t.Helper()
	client, err := Start(context.Background(), configs, &Options{
		ClientName:     "mcphost-tests",
		ConnectTimeout: 10 * time.Second,
		InvokeTimeout:  10 * time.Second,
		Logger:         testLogger(t),
	})
	if client != nil {
		t.Cleanup(func() { _ = client.Stop() })
	}
	return client, err
}
