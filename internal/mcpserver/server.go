package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all txguard tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("txguard", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolAssessTransaction, h.HandleAssessTransaction)
	s.AddTool(ToolLookupAddress, h.HandleLookupAddress)

	return s
}
