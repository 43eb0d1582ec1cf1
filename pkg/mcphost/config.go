package mcphost

import (
	"net/http"
	"time"
)

// BaseServerConfig captures settings shared by all transport kinds.
type BaseServerConfig struct {
	// ConnectTimeout bounds transport open + handshake + discovery. Zero
	// falls back to Options.ConnectTimeout.
	ConnectTimeout time.Duration
	// InvokeTimeout bounds a single tool call. Zero falls back to
	// Options.InvokeTimeout.
	InvokeTimeout time.Duration
}

// StdioServerConfig describes an MCP server launched as a child process and
// spoken to over its standard streams.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes an already-running MCP server reachable over the
// Streamable HTTP transport (or SSE for endpoints that only speak it).
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint   string
	HTTPClient *http.Client
	Headers    http.Header
	MaxRetries int
	// PreferSSE forces the SSE transport. When nil, endpoints ending in
	// "/sse" get SSE and everything else gets Streamable HTTP.
	PreferSSE *bool
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations. It is
// immutable once handed to Start; the Client owns it for its lifetime.
type ServerConfig interface {
	base() *BaseServerConfig
}

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportHTTP  ConfigTransport = "http"
)

// TransportOf returns the transport kind for a ServerConfig, or an empty
// string for nil or unknown implementations.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch cfg.(type) {
	case *StdioServerConfig:
		return TransportStdio
	case *HTTPServerConfig:
		return TransportHTTP
	default:
		return ""
	}
}

// AsStdio narrows cfg to *StdioServerConfig.
func AsStdio(cfg ServerConfig) (*StdioServerConfig, bool) {
	c, ok := cfg.(*StdioServerConfig)
	return c, ok
}

// AsHTTP narrows cfg to *HTTPServerConfig.
func AsHTTP(cfg ServerConfig) (*HTTPServerConfig, bool) {
	c, ok := cfg.(*HTTPServerConfig)
	return c, ok
}
