package mcphost

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Options configure a Client.
type Options struct {
	// ClientName is advertised to every server during the handshake.
	// Defaults to "mcphost".
	ClientName string
	// ClientVersion is the version advertised alongside ClientName.
	ClientVersion string
	// ConnectTimeout bounds each server's open + handshake + discovery
	// sequence unless the server config overrides it. Defaults to 30s.
	ConnectTimeout time.Duration
	// InvokeTimeout bounds each tool call unless overridden per server.
	// Defaults to 30s.
	InvokeTimeout time.Duration
	// KeepAlive enables protocol-level pings on idle sessions so dropped
	// transports are noticed before the next call. Zero disables them.
	KeepAlive time.Duration
	// Logger receives structured diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcphost"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// ServerSummary is a point-in-time snapshot of one managed server.
type ServerSummary struct {
	Name      string
	Transport ConfigTransport
	State     SessionState
	Tools     int
}

// Client is the multi-server façade: it owns one Session per configured
// server, the merged Registry, and the Dispatcher, and exposes the two
// operations an agent collaborator needs — ListTools and Invoke.
type Client struct {
	opts       Options
	registry   *Registry
	dispatcher *Dispatcher

	mu             sync.RWMutex
	sessions       map[string]*Session
	names          []string // sorted; fixes bare-name precedence deterministically
	catalogueHooks []func()
	closed         bool
}

// Start connects every configured server concurrently, best-effort. Servers
// that fail to connect are reported through a *PartialFailure without
// aborting the rest; the returned Client is usable for whichever servers
// succeeded. When no server connects at all, the Client is nil and the
// PartialFailure is the startup error.
//
// Bare-name precedence between colliding tools follows lexical order of the
// server names, so registration is deterministic even though connects run
// concurrently.
func Start(ctx context.Context, configs map[string]ServerConfig, opts *Options) (*Client, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("mcphost: no servers configured")
	}

	options := opts.withDefaults()
	c := &Client{
		opts:     options,
		registry: NewRegistry(options.Logger),
		sessions: make(map[string]*Session, len(configs)),
	}
	c.dispatcher = NewDispatcher(c.registry, options.Logger)

	sessionOpts := sessionOptions{
		clientName:     options.ClientName,
		clientVersion:  options.ClientVersion,
		connectTimeout: options.ConnectTimeout,
		invokeTimeout:  options.InvokeTimeout,
		keepAlive:      options.KeepAlive,
		logger:         options.Logger,
	}
	for name, cfg := range configs {
		if cfg == nil {
			return nil, fmt.Errorf("mcphost: nil config for server %q", name)
		}
		session := newSession(name, cfg, sessionOpts)
		session.onCatalogueChanged = func() { c.reregister(session) }
		c.sessions[name] = session
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)

	failed := c.connectAll(ctx, c.names)

	connected := 0
	for _, name := range c.names {
		session := c.sessions[name]
		if session.State() != StateReady {
			continue
		}
		c.registry.Register(session, session.Catalogue())
		connected++
	}

	if connected == 0 {
		_ = c.Stop()
		return nil, &PartialFailure{Failed: failed}
	}
	if len(failed) > 0 {
		return c, &PartialFailure{Failed: failed}
	}
	return c, nil
}

// connectAll dials the named sessions concurrently and returns the failures
// by server name. One slow or unreachable server never delays the others.
func (c *Client) connectAll(ctx context.Context, names []string) map[string]error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed = make(map[string]error)
	)
	for _, name := range names {
		session := c.sessions[name]
		wg.Add(1)
		go func(name string, session *Session) {
			defer wg.Done()
			if err := session.Connect(ctx); err != nil {
				c.opts.Logger.Warn("server connect failed", "server", name, "error", err)
				mu.Lock()
				failed[name] = err
				mu.Unlock()
				return
			}
			c.opts.Logger.Info("server connected",
				"server", name, "tools", len(session.Catalogue()))
		}(name, session)
	}
	wg.Wait()
	if len(failed) == 0 {
		return nil
	}
	return failed
}

// ListTools returns the merged tool catalogue across all connected servers —
// a stable-ordered snapshot of the registry.
func (c *Client) ListTools() []ToolDescriptor {
	return c.registry.List()
}

// Invoke routes one tool call through the dispatcher. The result always has
// exactly one of: a payload, or a failure descriptor.
func (c *Client) Invoke(ctx context.Context, toolName string, args map[string]any) *InvocationResult {
	return c.dispatcher.Invoke(ctx, toolName, args)
}

// Collisions exposes the tool-name collisions observed by the registry.
func (c *Client) Collisions() []CollisionEvent {
	return c.registry.Collisions()
}

// ServerNames returns all configured server names in sorted order.
func (c *Client) ServerNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.names...)
}

// Summaries reports the state of every configured server, connected or not.
func (c *Client) Summaries() []ServerSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	summaries := make([]ServerSummary, 0, len(c.names))
	for _, name := range c.names {
		session := c.sessions[name]
		summaries = append(summaries, ServerSummary{
			Name:      name,
			Transport: TransportOf(session.Config()),
			State:     session.State(),
			Tools:     len(session.Catalogue()),
		})
	}
	return summaries
}

// OnCatalogueChanged registers a hook that fires after the merged catalogue
// changes: a server re-announced its tools, dropped out, or came back through
// Reconnect. Hooks run on the goroutine that observed the change and must not
// block; layers republishing the catalogue (such as the gateway) subscribe
// here instead of polling.
func (c *Client) OnCatalogueChanged(hook func()) {
	if hook == nil {
		return
	}
	c.mu.Lock()
	c.catalogueHooks = append(c.catalogueHooks, hook)
	c.mu.Unlock()
}

func (c *Client) notifyCatalogueChanged() {
	c.mu.RLock()
	hooks := append([]func(){}, c.catalogueHooks...)
	c.mu.RUnlock()
	for _, hook := range hooks {
		hook()
	}
}

// SessionFor returns the session managing the named server.
func (c *Client) SessionFor(serverName string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, ok := c.sessions[serverName]
	return session, ok
}

// Reconnect drives a Failed (or never-connected) server back to Ready and
// atomically replaces its registry entries with the freshly discovered
// catalogue. Stale descriptors from before the drop stop resolving.
func (c *Client) Reconnect(ctx context.Context, serverName string) error {
	c.mu.RLock()
	session, ok := c.sessions[serverName]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("mcphost: client is stopped")
	}
	if !ok {
		return fmt.Errorf("mcphost: unknown server %q", serverName)
	}
	if err := session.Connect(ctx); err != nil {
		c.registry.Unregister(serverName)
		c.notifyCatalogueChanged()
		return err
	}
	c.registry.Register(session, session.Catalogue())
	c.notifyCatalogueChanged()
	return nil
}

// reregister refreshes one server's registry entries after the session
// re-discovered its catalogue.
func (c *Client) reregister(session *Session) {
	if session.State() != StateReady {
		c.registry.Unregister(session.Name())
	} else {
		c.registry.Register(session, session.Catalogue())
	}
	c.notifyCatalogueChanged()
}

// Stop closes every session best-effort: close errors are collected, not
// propagated mid-loop, so resource release always runs to completion.
// Idempotent.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]*Session, 0, len(c.names))
	for _, name := range c.names {
		sessions = append(sessions, c.sessions[name])
	}
	c.mu.Unlock()

	var merr *multierror.Error
	for _, session := range sessions {
		c.registry.Unregister(session.Name())
		if err := session.Close(); err != nil {
			c.opts.Logger.Warn("session close failed", "server", session.Name(), "error", err)
			merr = multierror.Append(merr, fmt.Errorf("close %q: %w", session.Name(), err))
		}
	}
	c.notifyCatalogueChanged()
	return merr.ErrorOrNil()
}
