package mcphost

import (
	"context"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// InvocationResult is the single shape every tool invocation produces. Either
// Failure is nil and the payload fields carry the tool's output, or Failure
// describes what went wrong. Infrastructure errors never escape the
// dispatcher in any other form.
type InvocationResult struct {
	// Tool is the exposed name the call resolved through.
	Tool   string
	Server string

	Content           []mcp.Content
	StructuredContent any
	// IsError marks a tool-domain error reported by the tool itself. The
	// invocation still succeeded at the infrastructure level, so Failure
	// stays nil; the payload carries the tool's own diagnostics.
	IsError bool

	Failure *Failure
}

// Failed reports whether the invocation produced a failure descriptor.
func (r *InvocationResult) Failed() bool { return r.Failure != nil }

// Text concatenates the textual content of the payload, which is how most
// tools return their primary value.
func (r *InvocationResult) Text() string {
	var parts []string
	for _, content := range r.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Dispatcher routes invocation requests to the owning session via the
// registry. It holds no state of its own beyond those references.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher builds a Dispatcher over the given registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Invoke resolves toolName, delegates to the owning session, and normalizes
// the outcome. Resolution happens per call: after a reconnect replaced a
// server's catalogue, stale names simply stop resolving.
func (d *Dispatcher) Invoke(ctx context.Context, toolName string, args map[string]any) *InvocationResult {
	entry, ok := d.registry.Resolve(toolName)
	if !ok {
		return &InvocationResult{
			Tool:    toolName,
			Failure: failuref(UnknownTool, "", "no server declares tool %q", toolName),
		}
	}

	result := &InvocationResult{Tool: toolName, Server: entry.Tool.Server}
	// The registry may expose the tool under an alias; the owning server
	// only knows the name it declared.
	res, err := entry.Session.Invoke(ctx, entry.Native, args)
	if err != nil {
		failure, found := AsFailure(err)
		if !found {
			failure = &Failure{Kind: ProtocolFailure, Server: entry.Tool.Server, Tool: toolName, Err: err}
		}
		d.logger.Debug("invocation failed",
			"tool", toolName, "server", entry.Tool.Server, "kind", failure.Kind)
		result.Failure = failure
		return result
	}
	if res != nil {
		result.Content = res.Content
		result.StructuredContent = res.StructuredContent
		result.IsError = res.IsError
	}
	return result
}
