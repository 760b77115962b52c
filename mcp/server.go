// Package mcp provides MCP (Model Context Protocol) server implementation
// for AI agent discovery of x402 payment resources.
package mcp

import (
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/andrewreder/x402-marketplace/x402"
)

// Config wires a Server.
type Config struct {
	// Resources are the x402 HTTP resources offered through search_resources.
	Resources []X402DiscoveryResource
	// HTTPClient performs proxy_tool_call requests.
	HTTPClient *http.Client
	// ToolGate, when set, prices the server's own paid tools.
	ToolGate *x402.ToolGate
	Logger   *zap.Logger
}

// Server wraps the MCP server implementation for x402 discovery.
type Server struct {
	mcpServer  *mcp.Server
	resources  []X402DiscoveryResource
	httpClient *http.Client
	toolGate   *x402.ToolGate
	logger     *zap.Logger
	now        func() time.Time
}

// NewServer creates a new MCP server instance with x402 discovery capabilities.
func NewServer(cfg Config) (*Server, error) {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "x402-discovery",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{},
	)

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcpServer:  mcpServer,
		resources:  cfg.Resources,
		httpClient: client,
		toolGate:   cfg.ToolGate,
		logger:     logger,
		now:        time.Now,
	}

	s.registerTools()

	return s, nil
}

// Handler returns an http.Handler for the MCP streamable HTTP transport.
// This handler should be mounted at /discovery/mcp.
func (s *Server) Handler() http.Handler {
	return s.HandlerWithOptions(nil)
}

// HandlerWithOptions returns an http.Handler for the MCP streamable HTTP transport
// with custom StreamableHTTPOptions.
func (s *Server) HandlerWithOptions(opts *mcp.StreamableHTTPOptions) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, opts)
}
