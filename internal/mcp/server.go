// Package mcp exposes the evaluation pipeline as MCP tools over stdio, so
// agent frameworks can route conversation turns through the policy engine
// without an HTTP hop.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/turnguard/turnguard/internal/pipeline"
)

// Server wraps the MCP SDK server around the pipeline.
type Server struct {
	mcpServer *mcpsdk.Server
	pipeline  *pipeline.Pipeline
}

// New creates an MCP server over an already-constructed pipeline.
func New(p *pipeline.Pipeline) *Server {
	s := &Server{pipeline: p}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "turnguard",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all turnguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "turnguard_submit_turn",
		Description: "Submit one conversation turn for moderation. Returns the verdict (allow/review/block) and reason code, and records the turn in the session.",
	}, s.handleSubmitTurn)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "turnguard_check",
		Description: "Dry-run a turn against the policy without recording it. The session state is not changed.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "turnguard_get_session",
		Description: "Fetch the current state of a session: status, risk accumulator, and decision history.",
	}, s.handleGetSession)
}
