// Package mcp provides an MCP server that exposes Orbit tools.
package mcp

import (
	"encoding/json"

	"github.com/cloudwego/eino/schema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolInfoToMCPTool converts an Eino ToolInfo to an mcp.Tool with JSON Schema.
func toolInfoToMCPTool(info *schema.ToolInfo) *mcpsdk.Tool {
	inputSchema := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}

	if info.ParamsOneOf != nil {
		if js, err := info.ParamsOneOf.ToJSONSchema(); err == nil && js != nil {
			if data, err := json.Marshal(js); err == nil {
				var m map[string]any
				if json.Unmarshal(data, &m) == nil {
					if props, ok := m["properties"]; ok {
						inputSchema["properties"] = props
					}
					if req, ok := m["required"]; ok {
						inputSchema["required"] = req
					}
				}
			}
		}
	}

	return &mcpsdk.Tool{
		Name:        info.Name,
		Description: info.Desc,
		InputSchema: inputSchema,
	}
}
