package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/naakaarafr/Multi-Server-MCP-Architecture/pkg/mcphost"
)

// Gateway fronts an mcphost.Client with a single Streamable MCP endpoint.
type Gateway struct {
	host *mcphost.Client
	opts Options

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	httpHandler   http.Handler

	serverMu sync.Mutex
	// exposed maps published tool name to the descriptor it was published
	// with, so Sync can tell a renamed tool from one whose schema or
	// description changed in place.
	exposed map[string]mcphost.ToolDescriptor

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// New builds a Gateway over the given host client, publishes the host's
// current tool catalogue, and subscribes to the host's catalogue-change hook
// so later upstream changes (tools/list_changed, reconnects) republish
// automatically.
func New(host *mcphost.Client, opts *Options) (*Gateway, error) {
	if host == nil {
		return nil, fmt.Errorf("gateway: host client is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		host:    host,
		opts:    options,
		exposed: make(map[string]mcphost.ToolDescriptor),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()

	g.Sync()
	host.OnCatalogueChanged(g.Sync)
	return g, nil
}

// Handler exposes the CORS-wrapped HTTP handler serving the Streamable
// endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// Sync republishes the host's merged tool catalogue: tools that disappeared
// from the host registry are removed, new ones added, and tools whose
// description or schema changed under an existing name are re-added with the
// fresh descriptor.
func (g *Gateway) Sync() {
	tools := g.host.ListTools()

	g.serverMu.Lock()
	defer g.serverMu.Unlock()

	current := make(map[string]struct{}, len(tools))
	for _, descriptor := range tools {
		current[descriptor.Name] = struct{}{}
	}
	var removed []string
	for name := range g.exposed {
		if _, ok := current[name]; !ok {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
		for _, name := range removed {
			delete(g.exposed, name)
		}
	}

	for _, descriptor := range tools {
		prev, published := g.exposed[descriptor.Name]
		if published && descriptorsEqual(prev, descriptor) {
			continue
		}
		if published {
			g.server.RemoveTools(descriptor.Name)
		}
		schema := descriptor.InputSchema
		if schema == nil {
			schema = &jsonschema.Schema{Type: "object"}
		}
		g.server.AddTool(&mcp.Tool{
			Name:        descriptor.Name,
			Description: descriptor.Description,
			InputSchema: schema,
		}, g.makeToolHandler(descriptor.Name))
		g.exposed[descriptor.Name] = descriptor
	}
}

func descriptorsEqual(a, b mcphost.ToolDescriptor) bool {
	return a.Name == b.Name &&
		a.Server == b.Server &&
		a.Description == b.Description &&
		reflect.DeepEqual(a.InputSchema, b.InputSchema)
}

// makeToolHandler proxies one published tool into the host's dispatcher.
// Host-level failures surface downstream as tool errors so the gateway's
// clients also see exactly one result shape.
func (g *Gateway) makeToolHandler(toolName string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req.Params != nil && req.Params.Arguments != nil {
			raw, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return nil, fmt.Errorf("gateway: encode arguments for %q: %w", toolName, err)
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("gateway: decode arguments for %q: %w", toolName, err)
			}
		}

		result := g.host.Invoke(ctx, toolName, args)
		if result.Failed() {
			g.opts.Logger.Warn("proxied invocation failed",
				"tool", toolName, "kind", result.Failure.Kind)
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: result.Failure.Error()}},
			}, nil
		}
		return &mcp.CallToolResult{
			Content:           result.Content,
			StructuredContent: result.StructuredContent,
			IsError:           result.IsError,
		}, nil
	}
}

// ListenAndServe runs an HTTP server until the context is cancelled or the
// server stops on its own.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		srv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("gateway: server already running on %s", srv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

func (g *Gateway) mountHandler() http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mux := http.NewServeMux()
	mux.Handle(path, g.streamHandler)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", g.streamHandler)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: g.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Accept", "Authorization", "Mcp-Session-Id", "Last-Event-ID", "Mcp-Protocol-Version"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	})
	return c.Handler(mux)
}
