package agent

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"axisverify/internal/harness"
	"axisverify/internal/history"
	"axisverify/pkg/logging"
)

const subsystem = "Agent"

// RunFunc runs cases against the configured controller.
type RunFunc func(ctx context.Context, config harness.Configuration, cases []harness.Case) (*harness.SuiteResult, error)

// Server exposes the case catalog and the runner as MCP tools
type Server struct {
	mcpServer *server.MCPServer
	base      harness.Configuration
	run       RunFunc
	store     *history.Store

	mu         sync.Mutex
	lastResult *harness.SuiteResult
}

// NewServer creates the MCP server. base supplies every setting a tool
// call does not override; store is optional.
func NewServer(version string, base harness.Configuration, run RunFunc, store *history.Store) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("axisverify", version, server.WithToolCapabilities(false)),
		base:      base,
		run:       run,
		store:     store,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server, for alternative transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Start serves on stdin and stdout until the input closes.
func (s *Server) Start(ctx context.Context) error {
	logging.Info(subsystem, "Serving axis verification tools on stdio")
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, stdinReader(), stdoutWriter())
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("axis_list_cases",
		mcp.WithDescription("List the verification cases of the built-in catalog"),
		mcp.WithString("tag",
			mcp.Description("Only list cases carrying this tag (limits, modes, motion, status, velocity, destructive)"),
		),
	), s.handleListCases)

	s.mcpServer.AddTool(mcp.NewTool("axis_run_cases",
		mcp.WithDescription("Run verification cases against motion axes and return the suite result"),
		mcp.WithString("axes",
			mcp.Description("Comma separated axis identifiers, e.g. m1,m2 (default from configuration)"),
		),
		mcp.WithString("device",
			mcp.Description("Controller prefix, e.g. IOC (default from configuration)"),
		),
		mcp.WithString("cases",
			mcp.Description("Comma separated case ids (default all)"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma separated tags selecting cases"),
		),
		mcp.WithBoolean("allow_destructive",
			mcp.Description("Include cases that drive onto limit switches or home the axis"),
		),
		mcp.WithBoolean("fail_fast",
			mcp.Description("Stop an axis at its first failed case"),
		),
		mcp.WithNumber("parallel",
			mcp.Description("Number of axes verified concurrently (1-16)"),
		),
		mcp.WithNumber("deadband",
			mcp.Description("Deadband factor applied to the acceleration time"),
		),
	), s.handleRunCases)

	s.mcpServer.AddTool(mcp.NewTool("axis_last_result",
		mcp.WithDescription("Return the result of the last run, or of a stored run by id"),
		mcp.WithString("run_id",
			mcp.Description("Id of a stored run (requires run history)"),
		),
	), s.handleLastResult)
}
