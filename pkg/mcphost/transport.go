package mcphost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// buildTransport constructs the SDK transport for a server configuration.
// The returned transport is exclusively owned by one session; framing and
// request/response matching are the SDK's JSON-RPC layer.
func buildTransport(serverName string, cfg ServerConfig) (mcp.Transport, error) {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		return buildStdioTransport(serverName, c)
	case *HTTPServerConfig:
		return buildHTTPTransport(serverName, c)
	default:
		return nil, fmt.Errorf("mcphost: unsupported config type %T for %q", cfg, serverName)
	}
}

func buildStdioTransport(serverName string, cfg *StdioServerConfig) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, failuref(LaunchFailure, serverName, "command missing")
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func buildHTTPTransport(serverName string, cfg *HTTPServerConfig) (mcp.Transport, error) {
	if cfg.Endpoint == "" {
		return nil, failuref(UnreachableFailure, serverName, "endpoint missing")
	}
	client := decorateHTTPClient(cfg.HTTPClient, cfg.Headers)
	if preferSSE(cfg) {
		return &mcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: client}, nil
	}
	return &mcp.StreamableClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: client,
		MaxRetries: cfg.MaxRetries,
	}, nil
}

func preferSSE(cfg *HTTPServerConfig) bool {
	if cfg.PreferSSE != nil {
		return *cfg.PreferSSE
	}
	return strings.HasSuffix(strings.TrimSpace(cfg.Endpoint), "/sse")
}

// classifyConnectError maps a failed open/handshake onto the taxonomy. The
// transport kind decides the default: a subprocess that never came up is a
// LaunchFailure, an HTTP endpoint that never answered is an
// UnreachableFailure. Timeouts and incompatible-protocol responses override
// either default.
func classifyConnectError(serverName string, cfg ServerConfig, err error) *Failure {
	if f, ok := AsFailure(err); ok {
		return f
	}
	if isTimeout(err) {
		return newFailure(Timeout, serverName, err)
	}
	// A refused dial can surface wrapped in initialize-phase framing; the
	// connection-level cause wins over the handshake wording.
	if isHandshakeError(err) && !isConnectionError(err) {
		return newFailure(HandshakeFailure, serverName, err)
	}
	switch TransportOf(cfg) {
	case TransportStdio:
		return newFailure(LaunchFailure, serverName, err)
	default:
		return newFailure(UnreachableFailure, serverName, err)
	}
}

// classifyCallError maps a failed tool call on an established session. The
// second return reports whether the session should be considered lost.
func classifyCallError(serverName, tool string, err error) (*Failure, bool) {
	if f, ok := AsFailure(err); ok {
		return f, f.Kind == ConnectionLost
	}
	f := &Failure{Server: serverName, Tool: tool, Err: err}
	switch {
	case isTimeout(err):
		f.Kind = Timeout
		return f, false
	case isConnectionError(err):
		f.Kind = ConnectionLost
		return f, true
	default:
		// The connection survived but the exchange did not decode into a
		// valid response (jsonrpc error, truncated frame, bad status).
		f.Kind = ProtocolFailure
		return f, false
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "connection is closed") ||
		strings.Contains(msg, "session closed") ||
		strings.Contains(msg, "process exited")
}

func isHandshakeError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "protocol version") ||
		strings.Contains(msg, "unsupported version") ||
		strings.Contains(msg, "initialize")
}

func decorateHTTPClient(base *http.Client, headers http.Header) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if len(headers) == 0 {
		return base
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: cloneHeader(headers),
	}
	return &clone
}

type headerDecorator struct {
	next    http.RoundTripper
	headers http.Header
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	clone := make(http.Header, len(h))
	for k, values := range h {
		clone[k] = append([]string(nil), values...)
	}
	return clone
}
