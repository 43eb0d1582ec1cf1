package mcphost

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File format consumed by LoadConfigFile:
//
//	servers:
//	  calculator:
//	    transport: stdio
//	    command: ./calculator-server
//	    args: ["--quiet"]
//	    env:
//	      LOG_LEVEL: warn
//	  weather:
//	    transport: http
//	    endpoint: http://localhost:8901/mcp
//	    headers:
//	      X-Api-Key: secret
//	    connect_timeout: 10s
type fileConfig struct {
	Servers map[string]serverEntry `yaml:"servers"`
}

type serverEntry struct {
	Transport string `yaml:"transport"`

	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`

	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`

	ConnectTimeout string `yaml:"connect_timeout"`
	InvokeTimeout  string `yaml:"invoke_timeout"`
}

// LoadConfigFile reads a YAML server map from path. The core treats the
// result as an opaque input: nothing in the Client depends on where configs
// came from.
func LoadConfigFile(path string) (map[string]ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcphost: read config %s: %w", path, err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes a YAML document into per-server configurations.
func ParseConfig(raw []byte) (map[string]ServerConfig, error) {
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("mcphost: parse config: %w", err)
	}
	if len(file.Servers) == 0 {
		return nil, fmt.Errorf("mcphost: config declares no servers")
	}
	configs := make(map[string]ServerConfig, len(file.Servers))
	for name, entry := range file.Servers {
		cfg, err := entry.toConfig(name)
		if err != nil {
			return nil, err
		}
		configs[name] = cfg
	}
	return configs, nil
}

func (e serverEntry) toConfig(name string) (ServerConfig, error) {
	base, err := e.baseConfig(name)
	if err != nil {
		return nil, err
	}
	switch ConfigTransport(e.Transport) {
	case TransportStdio:
		if e.Command == "" {
			return nil, fmt.Errorf("mcphost: server %q: stdio transport requires a command", name)
		}
		return &StdioServerConfig{
			BaseServerConfig: base,
			Command:          e.Command,
			Args:             append([]string(nil), e.Args...),
			Env:              e.Env,
		}, nil
	case TransportHTTP:
		if e.Endpoint == "" {
			return nil, fmt.Errorf("mcphost: server %q: http transport requires an endpoint", name)
		}
		cfg := &HTTPServerConfig{
			BaseServerConfig: base,
			Endpoint:         e.Endpoint,
		}
		if len(e.Headers) > 0 {
			cfg.Headers = make(http.Header, len(e.Headers))
			for k, v := range e.Headers {
				cfg.Headers.Set(k, v)
			}
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("mcphost: server %q: unknown transport %q", name, e.Transport)
	}
}

func (e serverEntry) baseConfig(name string) (BaseServerConfig, error) {
	var base BaseServerConfig
	var err error
	if base.ConnectTimeout, err = parseTimeout(e.ConnectTimeout); err != nil {
		return base, fmt.Errorf("mcphost: server %q: connect_timeout: %w", name, err)
	}
	if base.InvokeTimeout, err = parseTimeout(e.InvokeTimeout); err != nil {
		return base, fmt.Errorf("mcphost: server %q: invoke_timeout: %w", name, err)
	}
	return base, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}
