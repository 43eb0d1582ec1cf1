// Command mcp-host is the multi-server MCP host CLI: it loads a YAML server
// map, connects to every configured server, and lets you inspect the merged
// tool namespace, call tools, or serve the aggregate as one MCP endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/naakaarafr/Multi-Server-MCP-Architecture/pkg/gateway"
	"github.com/naakaarafr/Multi-Server-MCP-Architecture/pkg/mcphost"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath     string
	connectTimeout time.Duration
	verbose        bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "mcp-host",
		Short:         "Host for multiple MCP tool servers",
		Long:          "mcp-host connects to every MCP server in its config file, merges their tools into one namespace, and routes invocations to the owning server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "mcp-host.yaml", "path to the server config file")
	cmd.PersistentFlags().DurationVar(&flags.connectTimeout, "connect-timeout", 30*time.Second, "per-server connect timeout")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newToolsCmd(flags))
	cmd.AddCommand(newCallCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	return cmd
}

func (f *rootFlags) logger() *slog.Logger {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// startHost loads the config and connects; a PartialFailure is reported but
// not fatal as long as at least one server came up.
func (f *rootFlags) startHost(ctx context.Context) (*mcphost.Client, error) {
	configs, err := mcphost.LoadConfigFile(f.configPath)
	if err != nil {
		return nil, err
	}
	client, err := mcphost.Start(ctx, configs, &mcphost.Options{
		ClientName:     "mcp-host",
		ConnectTimeout: f.connectTimeout,
		Logger:         f.logger(),
	})
	if client == nil {
		return nil, err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return client, nil
}

func newToolsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List every tool across all connected servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := flags.startHost(ctx)
			if err != nil {
				return err
			}
			defer client.Stop()

			for _, tool := range client.ListTools() {
				fmt.Printf("%-30s %-15s %s\n", tool.Name, tool.Server, tool.Description)
			}
			for _, collision := range client.Collisions() {
				fmt.Fprintf(os.Stderr, "collision: %q kept by %s; %s reachable as %s\n",
					collision.Tool, collision.Winner, collision.Loser, collision.Alias)
			}
			return nil
		},
	}
}

func newCallCmd(flags *rootFlags) *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke one tool by its exposed name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			var toolArgs map[string]any
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			ctx := cmd.Context()
			client, err := flags.startHost(ctx)
			if err != nil {
				return err
			}
			defer client.Stop()

			result := client.Invoke(ctx, posArgs[0], toolArgs)
			if result.Failed() {
				return fmt.Errorf("%s: %s", result.Failure.Kind, result.Failure.Message())
			}
			if result.IsError {
				return fmt.Errorf("tool reported an error: %s", result.Text())
			}
			if text := result.Text(); text != "" {
				fmt.Println(text)
			}
			if result.StructuredContent != nil {
				encoded, err := json.MarshalIndent(result.StructuredContent, "", "  ")
				if err == nil {
					fmt.Println(string(encoded))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&rawArgs, "args", "a", "", "tool arguments as a JSON object")
	return cmd
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr, path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the merged tool namespace as one Streamable MCP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := flags.startHost(ctx)
			if err != nil {
				return err
			}
			defer client.Stop()

			gw, err := gateway.New(client, &gateway.Options{
				Addr:   addr,
				Path:   path,
				Logger: flags.logger(),
			})
			if err != nil {
				return err
			}
			if err := gw.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8700", "gateway listen address")
	cmd.Flags().StringVar(&path, "path", "/mcp", "gateway HTTP path")
	return cmd
}
