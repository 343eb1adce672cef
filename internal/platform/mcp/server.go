// Package mcp exposes the intent router and PHI redactor to agent runtimes
// over the Model Context Protocol (stdio transport).
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/domain/intent"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
)

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	// ActorID identifies the agent in audit events.
	ActorID string
}

// Server wraps the MCP SDK server.
type Server struct {
	mcpServer *mcpsdk.Server
	router    *intent.Router
	redactor  *hipaa.Redactor
	audit     *hipaa.AuditLogger
	actorID   string
	logger    zerolog.Logger
}

// New creates an MCP server with the routing and redaction tools. audit may
// be nil.
func New(cfg Config, router *intent.Router, redactor *hipaa.Redactor, audit *hipaa.AuditLogger, logger zerolog.Logger) *Server {
	if cfg.Name == "" {
		cfg.Name = "hipaa-voice-agent"
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	if cfg.ActorID == "" {
		cfg.ActorID = "mcp"
	}
	s := &Server{
		router:   router,
		redactor: redactor,
		audit:    audit,
		actorID:  cfg.ActorID,
		logger:   logger.With().Str("component", "mcp").Logger(),
	}
	s.mcpServer = mcpsdk.NewServer(&mcpsdk.Implementation{Name: cfg.Name, Version: cfg.Version}, nil)
	s.registerTools()
	return s
}

// Run serves on stdio. Blocks until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "route_intent",
		Description: "Classify a clinician utterance into a clinical intent with confidence, entities, confirmation requirement and safety flags.",
	}, s.handleRoute)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "redact_phi",
		Description: "Mask protected health information in free text or in a JSON object.",
	}, s.handleRedact)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "detect_phi",
		Description: "Report the type and byte offsets of PHI found in text without modifying it.",
	}, s.handleDetect)
}
