// Package mcp exposes the word catalog to AI agents as a Model Context
// Protocol server over stdio.
//
// Tools:
//
//   - search_words{query, mode?}
//   - add_word{word, class, definition, example?}
//   - delete_word{id}
//
// Every tool is backed by [search.Coordinator]. Failures are reported as tool
// results with IsError set, never as protocol errors.
package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/internal/search"
	"github.com/MrWong99/wordhoard/pkg/catalog"
	"github.com/MrWong99/wordhoard/pkg/embedding"
)

// Words is the part of [search.Coordinator] the tools need.
type Words interface {
	CreateWord(ctx context.Context, text, class, definition, example string) (int64, error)
	Search(ctx context.Context, query string, mode search.Mode) ([]search.Result, error)
	DeleteWord(ctx context.Context, id int64) (int64, error)
	Settings() search.Settings
}

// Server wraps the MCP server.
type Server struct {
	mcp     *mcpsdk.Server
	words   Words
	metrics *observe.Metrics
	version string
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records tool calls on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server with all tools registered.
func NewServer(words Words, opts ...Option) (*Server, error) {
	if words == nil {
		return nil, errors.New("mcp: word service is required")
	}
	s := &Server{words: words, version: "dev"}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "wordhoard", Version: s.version}, nil)
	s.registerTools()
	return s, nil
}

// MCP returns the underlying SDK server, for custom transports.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// Serve runs the server on stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// describe turns an error into the message shown to the agent. Internal
// failures are not spelled out.
func describe(err error) string {
	switch {
	case catalog.IsInputError(err), catalog.IsReferentialIntegrityError(err),
		errors.Is(err, embedding.ErrUnsupportedInputType):
		return err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request cancelled or timed out"
	default:
		return "internal error"
	}
}
