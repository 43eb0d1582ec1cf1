package mcphost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SessionState tracks a session's position in its lifecycle.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateReady        SessionState = "ready"
	StateFailed       SessionState = "failed"
	// StateClosed is terminal; a closed session never reconnects.
	StateClosed SessionState = "closed"
)

// ToolDescriptor describes one callable tool discovered on a server. The
// Name is the exposed (possibly server-qualified) name once the descriptor
// has passed through the registry; fresh from discovery it is the name the
// server declared.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema any
	Server      string
}

type sessionOptions struct {
	clientName     string
	clientVersion  string
	connectTimeout time.Duration
	invokeTimeout  time.Duration
	keepAlive      time.Duration
	logger         *slog.Logger
}

// Session owns the connection to exactly one server: its transport, the MCP
// handshake state, and the tool catalogue discovered from it. All state
// transitions happen under mu; tool calls are additionally serialized by
// callMu because a single stdio stream or HTTP session cannot safely
// interleave overlapping exchanges.
type Session struct {
	name string
	cfg  ServerConfig
	opts sessionOptions

	// onCatalogueChanged fires after a successful re-discovery so the owner
	// can re-register the refreshed catalogue. Never called under mu.
	onCatalogueChanged func()

	// transport overrides buildTransport when non-nil (tests).
	transport mcp.Transport

	callMu sync.Mutex

	mu        sync.Mutex
	state     SessionState
	client    *mcp.Client
	sess      *mcp.ClientSession
	catalogue []ToolDescriptor
}

func newSession(name string, cfg ServerConfig, opts sessionOptions) *Session {
	return &Session{
		name:  name,
		cfg:   cfg,
		opts:  opts,
		state: StateDisconnected,
	}
}

// Name returns the configured server name.
func (s *Session) Name() string { return s.name }

// Config returns the immutable server configuration.
func (s *Session) Config() ServerConfig { return s.cfg }

// State reports the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Catalogue returns a snapshot of the tools discovered on this server.
func (s *Session) Catalogue() []ToolDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolDescriptor(nil), s.catalogue...)
}

// Connect opens the transport, performs the MCP handshake, and discovers the
// server's tools. The catalogue is populated all-or-nothing: any fault moves
// the session to Failed with an empty catalogue. Valid from Disconnected and
// Failed; Ready is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.mu.Unlock()
		return fmt.Errorf("mcphost: server %q: connect already in progress", s.name)
	case StateClosed:
		s.mu.Unlock()
		return failuref(SessionNotReady, s.name, "session closed")
	}
	s.state = StateConnecting
	s.mu.Unlock()

	sess, client, catalogue, err := s.dial(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		// Close raced the dial; release whatever we acquired.
		if sess != nil {
			_ = sess.Close()
		}
		return failuref(SessionNotReady, s.name, "session closed")
	}
	if err != nil {
		s.state = StateFailed
		return err
	}
	s.state = StateReady
	s.client = client
	s.sess = sess
	s.catalogue = catalogue
	go s.monitor(sess)
	return nil
}

func (s *Session) dial(ctx context.Context) (*mcp.ClientSession, *mcp.Client, []ToolDescriptor, error) {
	transport := s.transport
	if transport == nil {
		var err error
		transport, err = buildTransport(s.name, s.cfg)
		if err != nil {
			return nil, nil, nil, classifyConnectError(s.name, s.cfg, err)
		}
	}

	connectCtx := ctx
	if timeout := s.connectTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    s.opts.clientName,
		Version: s.opts.clientVersion,
	}, &mcp.ClientOptions{
		KeepAlive: s.opts.keepAlive,
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			go s.refreshCatalogue()
		},
	})

	sess, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, nil, nil, classifyConnectError(s.name, s.cfg, err)
	}

	res, err := sess.ListTools(connectCtx, nil)
	if err != nil {
		_ = sess.Close()
		if isTimeout(err) {
			return nil, nil, nil, newFailure(Timeout, s.name, err)
		}
		return nil, nil, nil, newFailure(DiscoveryFailure, s.name, err)
	}
	return sess, client, descriptorsFromTools(s.name, res.Tools), nil
}

func descriptorsFromTools(serverName string, tools []*mcp.Tool) []ToolDescriptor {
	catalogue := make([]ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		catalogue = append(catalogue, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Server:      serverName,
		})
	}
	return catalogue
}

// monitor flips the session to Failed when the SDK session ends underneath a
// Ready session (child exit, dropped connection, failed keepalive).
func (s *Session) monitor(sess *mcp.ClientSession) {
	err := sess.Wait()
	s.mu.Lock()
	lost := s.sess == sess && s.state == StateReady
	if lost {
		s.state = StateFailed
		s.sess = nil
		s.catalogue = nil
	}
	s.mu.Unlock()
	if lost {
		s.opts.logger.Warn("session lost", "server", s.name, "error", err)
	}
}

// refreshCatalogue re-runs tool discovery after a tools/list_changed
// notification and hands the refreshed catalogue to the owner.
func (s *Session) refreshCatalogue() {
	s.mu.Lock()
	sess := s.sess
	ready := s.state == StateReady
	s.mu.Unlock()
	if !ready || sess == nil {
		return
	}

	ctx := context.Background()
	if timeout := s.connectTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := sess.ListTools(ctx, nil)
	if err != nil {
		s.opts.logger.Warn("catalogue refresh failed", "server", s.name, "error", err)
		return
	}

	s.mu.Lock()
	changed := s.sess == sess && s.state == StateReady
	if changed {
		s.catalogue = descriptorsFromTools(s.name, res.Tools)
	}
	callback := s.onCatalogueChanged
	s.mu.Unlock()
	if changed && callback != nil {
		callback()
	}
}

// Invoke calls a tool on this server. It requires StateReady, serializes
// concurrent callers, and classifies transport faults: a lost connection
// moves the session to Failed, a timeout or protocol fault leaves it Ready.
func (s *Session) Invoke(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	if s.state != StateReady || s.sess == nil {
		state := s.state
		s.mu.Unlock()
		return nil, &Failure{
			Kind:   SessionNotReady,
			Server: s.name,
			Tool:   tool,
			Err:    fmt.Errorf("session is %s", state),
		}
	}
	sess := s.sess
	s.mu.Unlock()

	s.callMu.Lock()
	defer s.callMu.Unlock()

	callCtx := ctx
	if timeout := s.invokeTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := sess.CallTool(callCtx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		failure, lost := classifyCallError(s.name, tool, err)
		if lost {
			s.markLost(sess)
		}
		return nil, failure
	}
	return res, nil
}

func (s *Session) markLost(sess *mcp.ClientSession) {
	s.mu.Lock()
	if s.sess == sess && s.state == StateReady {
		s.state = StateFailed
		s.sess = nil
		s.catalogue = nil
		_ = sess.Close()
	}
	s.mu.Unlock()
}

// Close releases the transport. Idempotent and safe from any state.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	sess := s.sess
	s.state = StateClosed
	s.sess = nil
	s.client = nil
	s.catalogue = nil
	s.mu.Unlock()
	if sess != nil {
		return sess.Close()
	}
	return nil
}

func (s *Session) connectTimeout() time.Duration {
	if t := s.cfg.base().ConnectTimeout; t > 0 {
		return t
	}
	return s.opts.connectTimeout
}

func (s *Session) invokeTimeout() time.Duration {
	if t := s.cfg.base().InvokeTimeout; t > 0 {
		return t
	}
	return s.opts.invokeTimeout
}
