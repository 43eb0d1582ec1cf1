package mcphost

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func deadEndpoint(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	endpoint := "http://" + ln.Addr().String() + "/mcp"
	_ = ln.Close()
	return endpoint
}

func TestClientTwoServersEndToEnd(t *testing.T) {
	t.Parallel()

	calculator := newUpstream(t, "calculator",
		arithmeticTool("add", func(a, b float64) float64 { return a + b }),
		arithmeticTool("multiply", func(a, b float64) float64 { return a * b }),
	)
	weather := newUpstream(t, "weather",
		staticTool("get_weather", "Sunny, 21 degrees in Berlin"),
	)

	client, err := startTestClient(t, map[string]ServerConfig{
		"calculator": &HTTPServerConfig{Endpoint: calculator.URL},
		"weather":    &HTTPServerConfig{Endpoint: weather.URL},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	tools := client.ListTools()
	if len(tools) != 3 {
		t.Fatalf("merged catalogue has %d tools, want 3: %v", len(tools), tools)
	}

	if res := client.Invoke(context.Background(), "add", map[string]any{"a": 3, "b": 5}); res.Failed() {
		t.Fatalf("add failed: %v", res.Failure)
	} else if res.Text() != "8" {
		t.Fatalf("add(3, 5) = %q, want \"8\"", res.Text())
	}
	if res := client.Invoke(context.Background(), "multiply", map[string]any{"a": 8, "b": 12}); res.Failed() {
		t.Fatalf("multiply failed: %v", res.Failure)
	} else if res.Text() != "96" {
		t.Fatalf("multiply(8, 12) = %q, want \"96\"", res.Text())
	}
	res := client.Invoke(context.Background(), "get_weather", map[string]any{"city": "Berlin"})
	if res.Failed() {
		t.Fatalf("get_weather failed: %v", res.Failure)
	}
	if !strings.Contains(res.Text(), "Sunny") {
		t.Fatalf("get_weather returned %q", res.Text())
	}
	if res.Server != "weather" {
		t.Fatalf("get_weather attributed to %q", res.Server)
	}

	res = client.Invoke(context.Background(), "no_such_tool", nil)
	if !res.Failed() || res.Failure.Kind != UnknownTool {
		t.Fatalf("expected unknown_tool, got %+v", res)
	}

	summaries := client.Summaries()
	if len(summaries) != 2 {
		t.Fatalf("Summaries() = %v", summaries)
	}
	for _, s := range summaries {
		if s.State != StateReady || s.Transport != TransportHTTP {
			t.Fatalf("unexpected summary: %+v", s)
		}
	}
}

func TestClientPartialStartup(t *testing.T) {
	t.Parallel()

	live := newUpstream(t, "live", staticTool("ping", "pong"))

	client, err := startTestClient(t, map[string]ServerConfig{
		"live": &HTTPServerConfig{Endpoint: live.URL},
		"dead": &HTTPServerConfig{Endpoint: deadEndpoint(t)},
	})
	if client == nil {
		t.Fatalf("partial startup returned no client (err: %v)", err)
	}

	var pf *PartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("Start error = %v, want *PartialFailure", err)
	}
	if got := pf.Servers(); !equalStrings(got, []string{"dead"}) {
		t.Fatalf("failed servers = %v, want [dead]", got)
	}
	if kind := KindOf(pf.Failed["dead"]); kind != UnreachableFailure {
		t.Fatalf("dead failure kind = %q, want %q", kind, UnreachableFailure)
	}

	// The connected subset is fully usable.
	if res := client.Invoke(context.Background(), "ping", nil); res.Failed() {
		t.Fatalf("ping on surviving server failed: %v", res.Failure)
	}
	for _, s := range client.Summaries() {
		switch s.Name {
		case "live":
			if s.State != StateReady || s.Tools != 1 {
				t.Fatalf("live summary: %+v", s)
			}
		case "dead":
			if s.State != StateFailed || s.Tools != 0 {
				t.Fatalf("dead summary: %+v", s)
			}
		}
	}
}

func TestClientAllServersFail(t *testing.T) {
	t.Parallel()

	client, err := startTestClient(t, map[string]ServerConfig{
		"dead1": &HTTPServerConfig{Endpoint: deadEndpoint(t)},
		"dead2": &HTTPServerConfig{Endpoint: deadEndpoint(t)},
	})
	if client != nil {
		t.Fatalf("expected no client when every server fails")
	}
	var pf *PartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("Start error = %v, want *PartialFailure", err)
	}
	if got := pf.Servers(); !equalStrings(got, []string{"dead1", "dead2"}) {
		t.Fatalf("failed servers = %v", got)
	}
}

func TestClientRejectsEmptyConfig(t *testing.T) {
	t.Parallel()

	if _, err := Start(context.Background(), nil, nil); err == nil {
		t.Fatalf("Start with no servers succeeded")
	}
}

func TestClientCollisionPrecedence(t *testing.T) {
	t.Parallel()

	alpha := newUpstream(t, "alpha", staticTool("lookup", "from alpha"))
	beta := newUpstream(t, "beta", staticTool("lookup", "from beta"))

	client, err := startTestClient(t, map[string]ServerConfig{
		"alpha": &HTTPServerConfig{Endpoint: alpha.URL},
		"beta":  &HTTPServerConfig{Endpoint: beta.URL},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Lexically first server wins the bare name regardless of connect order.
	if res := client.Invoke(context.Background(), "lookup", nil); res.Text() != "from alpha" {
		t.Fatalf("bare lookup = %q, want alpha's reply", res.Text())
	}
	if res := client.Invoke(context.Background(), "beta.lookup", nil); res.Text() != "from beta" {
		t.Fatalf("beta.lookup = %q, want beta's reply", res.Text())
	}

	collisions := client.Collisions()
	if len(collisions) != 1 {
		t.Fatalf("collisions = %v, want exactly one", collisions)
	}
	if c := collisions[0]; c.Winner != "alpha" || c.Loser != "beta" || c.Alias != "beta.lookup" {
		t.Fatalf("unexpected collision: %+v", c)
	}
}

func TestClientSlowServerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	slow := newUpstream(t, "slow", echoTool("drag"))
	fast := newUpstream(t, "fast", staticTool("quick", "ok"))

	client, err := startTestClient(t, map[string]ServerConfig{
		"slow": &HTTPServerConfig{Endpoint: slow.URL},
		"fast": &HTTPServerConfig{Endpoint: fast.URL},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan *InvocationResult, 1)
	go func() {
		done <- client.Invoke(context.Background(), "drag", map[string]any{
			"id":       "slowpoke",
			"delay_ms": 500,
		})
	}()

	start := time.Now()
	res := client.Invoke(context.Background(), "quick", nil)
	if res.Failed() {
		t.Fatalf("quick failed: %v", res.Failure)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("fast server blocked behind slow one: %s", elapsed)
	}

	slowRes := <-done
	if slowRes.Failed() {
		t.Fatalf("slow call failed: %v", slowRes.Failure)
	}
	if slowRes.Text() != "slowpoke" {
		t.Fatalf("slow call returned %q", slowRes.Text())
	}
}

func TestClientDropAndReconnect(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	first := &http.Server{Handler: newUpstreamHandler("flaky",
		staticTool("ping", "pong"),
		staticTool("old_tool", "stale"),
	)}
	go func() { _ = first.Serve(ln) }()

	client, err := startTestClient(t, map[string]ServerConfig{
		"flaky": &HTTPServerConfig{Endpoint: "http://" + addr + "/"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res := client.Invoke(context.Background(), "ping", nil); res.Text() != "pong" {
		t.Fatalf("ping before drop = %+v", res)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("close upstream: %v", err)
	}

	// The next call observes the drop. Depending on whether the transport
	// monitor noticed first, it surfaces as connection_lost or as the
	// session already sitting in Failed.
	res := client.Invoke(context.Background(), "ping", nil)
	if !res.Failed() {
		t.Fatalf("invoke against dropped server succeeded: %+v", res)
	}
	if k := res.Failure.Kind; k != ConnectionLost && k != SessionNotReady {
		t.Fatalf("post-drop failure kind = %q", k)
	}

	// Bring the server back on the same address with a changed catalogue.
	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("rebind %s: %v", addr, err)
	}
	second := &http.Server{Handler: newUpstreamHandler("flaky",
		staticTool("ping", "pong"),
		staticTool("new_tool", "fresh"),
	)}
	go func() { _ = second.Serve(ln2) }()
	t.Cleanup(func() { _ = second.Close() })

	if err := client.Reconnect(context.Background(), "flaky"); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}

	if res := client.Invoke(context.Background(), "ping", nil); res.Failed() || res.Text() != "pong" {
		t.Fatalf("ping after reconnect = %+v", res)
	}
	if res := client.Invoke(context.Background(), "new_tool", nil); res.Failed() || res.Text() != "fresh" {
		t.Fatalf("new_tool after reconnect = %+v", res)
	}
	// The replacement is atomic: descriptors from before the drop are gone.
	res = client.Invoke(context.Background(), "old_tool", nil)
	if !res.Failed() || res.Failure.Kind != UnknownTool {
		t.Fatalf("old_tool should be unknown after reconnect, got %+v", res)
	}

	// Stop before the upstream goes away so the session monitor quiesces
	// inside the test.
	if err := client.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestClientCatalogueRefreshOnToolListChange(t *testing.T) {
	t.Parallel()

	server := mcp.NewServer(&mcp.Implementation{Name: "mutating", Version: "1.0.0"}, nil)
	ping := staticTool("ping", "pong")
	server.AddTool(&mcp.Tool{
		Name:        ping.name,
		Description: ping.description,
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, ping.handler)
	upstream := httptest.NewServer(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil))
	t.Cleanup(upstream.Close)

	client, err := startTestClient(t, map[string]ServerConfig{
		"mutating": &HTTPServerConfig{Endpoint: upstream.URL},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(client.ListTools()); got != 1 {
		t.Fatalf("initial catalogue has %d tools", got)
	}

	extra := staticTool("extra", "added later")
	server.AddTool(&mcp.Tool{
		Name:        extra.name,
		Description: extra.description,
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, extra.handler)

	// The server pushes tools/list_changed; discovery re-runs asynchronously.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if res := client.Invoke(context.Background(), "extra", nil); !res.Failed() {
			if res.Text() != "added later" {
				t.Fatalf("extra returned %q", res.Text())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("catalogue never picked up the added tool: %v", client.ListTools())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestClientStopIdempotent(t *testing.T) {
	t.Parallel()

	upstream := newUpstream(t, "solo", staticTool("ping", "pong"))
	client, err := startTestClient(t, map[string]ServerConfig{
		"solo": &HTTPServerConfig{Endpoint: upstream.URL},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := client.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := client.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if got := len(client.ListTools()); got != 0 {
		t.Fatalf("catalogue after Stop has %d tools", got)
	}
	res := client.Invoke(context.Background(), "ping", nil)
	if !res.Failed() || res.Failure.Kind != UnknownTool {
		t.Fatalf("invoke after Stop = %+v", res)
	}
	if err := client.Reconnect(context.Background(), "solo"); err == nil {
		t.Fatalf("Reconnect after Stop succeeded")
	}
}
