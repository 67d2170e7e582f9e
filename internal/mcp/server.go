package mcp

import (
	"context"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/skylattice/orbit/internal/tools"
)

// NewMCPServer creates an MCP server exposing tools from the registry.
// filter is an optional comma-separated list of tool names; when non-empty,
// only the listed tools are exposed.
func NewMCPServer(registry *tools.Registry, filter string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "orbit",
		Version: "0.1.0",
	}, nil)

	allowed := parseFilter(filter)

	for _, name := range registry.Names() {
		if allowed != nil && !allowed[name] {
			continue
		}

		invokable := registry.Tool(name)
		info, err := invokable.Info(context.Background())
		if err != nil {
			slog.Warn("mcp tool info", "tool", name, "error", err)
			continue
		}

		mcpTool := toolInfoToMCPTool(info)

		toolName := name
		server.AddTool(mcpTool, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			args := string(req.Params.Arguments)
			result, err := invokable.InvokableRun(ctx, args)
			if err != nil {
				slog.Debug("mcp tool error", "tool", toolName, "error", err)
				return &mcpsdk.CallToolResult{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: result}},
			}, nil
		})

		slog.Debug("mcp tool registered", "tool", name)
	}

	return server
}

// parseFilter splits a comma-separated tool list. nil means no filtering.
func parseFilter(filter string) map[string]bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil
	}
	allowed := make(map[string]bool)
	for _, name := range strings.Split(filter, ",") {
		if name = strings.TrimSpace(name); name != "" {
			allowed[name] = true
		}
	}
	return allowed
}
