// Command weather-server is an HTTP MCP server exposing a mock weather
// lookup tool over the Streamable transport. The mcp-host demo expects it to
// already be running.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var conditions = []string{
	"sunny with clear skies",
	"partly cloudy",
	"overcast with light rain",
	"windy with scattered showers",
	"foggy in the morning, clearing later",
}

func main() {
	addr := flag.String("addr", ":8901", "listen address")
	path := flag.String("path", "/mcp", "HTTP path for the MCP endpoint")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "weather-server",
		Title:   "Weather",
		Version: "1.0.0",
	}, nil)

	server.AddTool(&mcp.Tool{
		Name:        "get_weather",
		Description: "Return the current weather for a location.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"location": {Type: "string", Description: "City, region, or place name"},
			},
			Required: []string{"location"},
		},
	}, handleGetWeather)

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
	mux := http.NewServeMux()
	mux.Handle(*path, handler)

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("weather-server listening on %s%s", *addr, *path)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("weather-server: %v", err)
	}
}

func handleGetWeather(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in struct {
		Location string `json:"location"`
	}
	if req.Params != nil && req.Params.Arguments != nil {
		raw, err := json.Marshal(req.Params.Arguments)
		if err == nil {
			_ = json.Unmarshal(raw, &in)
		}
	}
	if strings.TrimSpace(in.Location) == "" {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "location is required"}},
		}, nil
	}

	// Deterministic mock conditions so repeated lookups for the same place
	// agree with each other.
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(in.Location)))
	condition := conditions[int(h.Sum32())%len(conditions)]
	temperature := 10 + int(h.Sum32()>>8)%25

	report := fmt.Sprintf("Weather in %s: %s, %d°C", in.Location, condition, temperature)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: report}},
		StructuredContent: map[string]any{
			"location":    in.Location,
			"condition":   condition,
			"temperature": temperature,
		},
	}, nil
}
