package mcp

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultListLimit = 20

type queryArgs struct {
	Query string `json:"query"`
}

type storeArgs struct {
	Query    string `json:"query"`
	Response string `json:"response"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type listArgs struct {
	Limit int `json:"limit"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"cyx_cache_lookup": handleLookup,
	"cyx_cache_store":  handleStore,
	"cyx_cache_stats":  handleStats,
	"cyx_cache_list":   handleList,
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var allTools = []mcpsdk.Tool{
	{
		Name:        "cyx_cache_lookup",
		Description: "Look up a security tooling question in the local cache. Tries an exact match on the normalized query first, then the most similar cached query.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"query"},
			"properties": map[string]any{"query": stringProp("The question as the user asked it")},
		},
	},
	{
		Name:        "cyx_cache_store",
		Description: "Store an answer for a question so later lookups of the same or a similar question hit the cache.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"query", "response"},
			"properties": map[string]any{
				"query":    stringProp("The question as the user asked it"),
				"response": stringProp("The answer to cache"),
				"provider": stringProp("Provider that produced the answer (optional)"),
				"model":    stringProp("Model that produced the answer (optional)"),
			},
		},
	},
	{
		Name:        "cyx_cache_stats",
		Description: "Show cache size and hit/miss statistics.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "cyx_cache_list",
		Description: "List the most recently used cache entries.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{"type": "integer", "description": "Maximum entries to return (default 20, 0 for all)"},
			},
		},
	},
}

func handleLookup(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.resolver == nil {
		return textResult("Cache is disabled.")
	}
	var args queryArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Query == "" {
		return errorResult("query is required")
	}
	res, err := s.resolver.Lookup(ctx, args.Query)
	if err != nil {
		return errorResult("Error looking up query: " + err.Error())
	}
	return textResult(formatLookup(res))
}

func handleStore(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.resolver == nil {
		return textResult("Cache is disabled.")
	}
	var args storeArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Query == "" || args.Response == "" {
		return errorResult("query and response are required")
	}
	key := s.resolver.Key(args.Query)
	id, err := s.resolver.Remember(ctx, key, args.Query, args.Response, args.Provider, args.Model)
	if err != nil {
		return errorResult("Error storing response: " + err.Error())
	}
	return textResult(formatStored(id, key))
}

func handleStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatStats(stats))
}

func handleList(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	args := listArgs{Limit: defaultListLimit}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("invalid arguments: " + err.Error())
		}
	}
	entries, err := s.cache.ListAll(ctx, args.Limit)
	if err != nil {
		return errorResult("Error listing cache: " + err.Error())
	}
	return textResult(formatEntries(entries))
}
