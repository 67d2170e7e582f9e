package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/skylattice/orbit/internal/config"
	orbitmcp "github.com/skylattice/orbit/internal/mcp"
	"github.com/skylattice/orbit/internal/tools"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServeCommand returns the mcp-serve subcommand.
func NewMCPServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp-serve",
		Usage: "Expose Orbit tools as an MCP server (stdio)",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:      "filter",
				UsageText: "Comma-separated tool names to expose (empty = all)",
			},
		},
		Action: runMCPServe,
	}
}

func runMCPServe(_ context.Context, cmd *cli.Command) error {
	// Log to stderr, stdout carries the MCP stdio transport
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Debug("config not found, using defaults", "path", configPath, "error", err)
		cfg = &config.Config{}
	}

	ctx := context.Background()

	// No tool cache here; MCP clients decide their own caching.
	toolRegistry, err := tools.SetupRegistry(ctx, cfg.Tools, nil)
	if err != nil {
		return err
	}

	filter := cmd.StringArg("filter")

	slog.Debug("starting MCP server", "filter", filter, "tools", len(toolRegistry.Names()))

	server := orbitmcp.NewMCPServer(toolRegistry, filter)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
