package mcphost

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// FailureKind classifies every infrastructure fault the host can surface.
// The set is closed: transports, sessions, and the dispatcher map whatever
// goes wrong underneath onto exactly one of these kinds, so callers never
// observe raw I/O errors.
type FailureKind string

const (
	// LaunchFailure: a subprocess server's executable could not be started.
	LaunchFailure FailureKind = "launch_failure"
	// UnreachableFailure: an HTTP server could not be reached (connection
	// refused, DNS failure, or a failed initial exchange).
	UnreachableFailure FailureKind = "unreachable_failure"
	// HandshakeFailure: the server answered but does not speak a compatible
	// protocol version.
	HandshakeFailure FailureKind = "handshake_failure"
	// DiscoveryFailure: tool listing failed after a successful handshake.
	DiscoveryFailure FailureKind = "discovery_failure"
	// ProtocolFailure: a malformed or partial frame, a non-success HTTP
	// status, or a protocol-level error on an otherwise live connection.
	ProtocolFailure FailureKind = "protocol_failure"
	// ConnectionLost: the transport dropped under an established session.
	ConnectionLost FailureKind = "connection_lost"
	// SessionNotReady: an invocation hit a session that is not in the Ready
	// state.
	SessionNotReady FailureKind = "session_not_ready"
	// UnknownTool: no registered server declares the requested tool.
	UnknownTool FailureKind = "unknown_tool"
	// Timeout: a bounded wait elapsed before the operation completed.
	Timeout FailureKind = "timeout"
)

// Failure is the uniform failure descriptor carried by InvocationResult and
// returned from session lifecycle operations. It wraps the underlying cause
// for diagnostics while keeping the kind authoritative for callers.
type Failure struct {
	Kind   FailureKind
	Server string
	Tool   string
	Err    error
}

func (f *Failure) Error() string {
	msg := f.Message()
	switch {
	case f.Server != "" && f.Tool != "":
		return fmt.Sprintf("mcphost: %s (server %q, tool %q): %s", f.Kind, f.Server, f.Tool, msg)
	case f.Server != "":
		return fmt.Sprintf("mcphost: %s (server %q): %s", f.Kind, f.Server, msg)
	default:
		return fmt.Sprintf("mcphost: %s: %s", f.Kind, msg)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// Message returns the human-readable cause without the kind/server framing.
func (f *Failure) Message() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}

func newFailure(kind FailureKind, server string, err error) *Failure {
	return &Failure{Kind: kind, Server: server, Err: err}
}

func failuref(kind FailureKind, server, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Server: server, Err: fmt.Errorf(format, args...)}
}

// AsFailure extracts the Failure from an error chain. The second return is
// false when the error carries no host classification.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf reports the FailureKind of err, or "" when err is not a Failure.
func KindOf(err error) FailureKind {
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	return ""
}

// PartialFailure aggregates the servers that failed to connect during Start.
// It is non-fatal whenever at least one server connected: Start returns it
// alongside a usable Client so callers can inspect (or ignore) the failed
// subset.
type PartialFailure struct {
	// Failed maps server name to the classified connect failure.
	Failed map[string]error
}

func (p *PartialFailure) Error() string {
	merr := &multierror.Error{}
	for _, name := range p.Servers() {
		merr = multierror.Append(merr, fmt.Errorf("server %q: %w", name, p.Failed[name]))
	}
	return fmt.Sprintf("mcphost: %d server(s) failed to start: %s", len(p.Failed), merr.Error())
}

// Servers lists the failed server names in stable (sorted) order.
func (p *PartialFailure) Servers() []string {
	names := make([]string, 0, len(p.Failed))
	for name := range p.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Errors exposes the per-server failures in the order of Servers.
func (p *PartialFailure) Errors() []error {
	errs := make([]error, 0, len(p.Failed))
	for _, name := range p.Servers() {
		errs = append(errs, p.Failed[name])
	}
	return errs
}
