// Command calculator-server is a stdio MCP server exposing basic arithmetic
// tools. The mcp-host demo launches it as a child process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "calculator-server",
		Title:   "Calculator",
		Version: "1.0.0",
	}, nil)

	server.AddTool(&mcp.Tool{
		Name:        "add",
		Description: "Add two numbers and return the sum.",
		InputSchema: binaryOpSchema(),
	}, makeArithmeticHandler(func(a, b float64) float64 { return a + b }))

	server.AddTool(&mcp.Tool{
		Name:        "multiply",
		Description: "Multiply two numbers and return the product.",
		InputSchema: binaryOpSchema(),
	}, makeArithmeticHandler(func(a, b float64) float64 { return a * b }))

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatalf("calculator-server: %v", err)
	}
}

func binaryOpSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"a": {Type: "number", Description: "First operand"},
			"b": {Type: "number", Description: "Second operand"},
		},
		Required: []string{"a", "b"},
	}
}

func makeArithmeticHandler(op func(a, b float64) float64) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in struct {
			A float64 `json:"a"`
			B float64 `json:"b"`
		}
		if err := unmarshalArgs(req, &in); err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			}, nil
		}
		value := op(in.A, in.B)
		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: strconv.FormatFloat(value, 'f', -1, 64)}},
			StructuredContent: value,
		}, nil
	}
}

func unmarshalArgs(req *mcp.CallToolRequest, out any) error {
	if req.Params == nil || req.Params.Arguments == nil {
		return fmt.Errorf("missing arguments")
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
