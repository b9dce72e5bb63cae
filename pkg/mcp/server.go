// Package mcp serves the query cache to MCP clients (editor agents and chat
// frontends) as JSON-RPC 2.0 over stdio, one message per line.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/cyx-sec/cyx/pkg/lookup"
	"github.com/cyx-sec/cyx/pkg/models"
)

const maxLineBytes = 1024 * 1024

// Cache is the read side of the cache used for reporting.
type Cache interface {
	Stats(ctx context.Context) (models.CacheStats, error)
	ListAll(ctx context.Context, limit int) ([]models.CachedQuery, error)
}

// Resolver resolves and stores queries.
type Resolver interface {
	Key(query string) lookup.Result
	Lookup(ctx context.Context, query string) (lookup.Result, error)
	Remember(ctx context.Context, res lookup.Result, original, response, provider, model string) (int64, error)
}

var _ Resolver = (*lookup.Resolver)(nil)

// Server is a minimal MCP server exposing the cache tools.
type Server struct {
	cache    Cache
	resolver Resolver
	version  string
	logger   *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server. A nil resolver disables the lookup and store tools,
// which then report that the cache is disabled.
func New(cache Cache, resolver Resolver, version string, opts ...Option) *Server {
	s := &Server{
		cache:    cache,
		resolver: resolver,
		version:  version,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads requests from r line by line and writes responses to w. It
// returns when r is exhausted or ctx is canceled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Debug("unparseable request", zap.Error(err))
			s.write(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	s.logger.Debug("request", zap.String("method", req.Method))

	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      mcpsdk.Implementation{Name: "cyx", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
			Instructions:    "Check cyx_cache_lookup before answering security tooling questions; store fresh answers with cyx_cache_store.",
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		var params ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid params")
		}
		handler, ok := toolHandlers[params.Name]
		if !ok {
			return resultResponse(req.ID, errorResult("unknown tool: "+params.Name))
		}
		return resultResponse(req.ID, handler(ctx, s, params.Arguments))
	default:
		if len(req.ID) == 0 {
			return nil
		}
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
