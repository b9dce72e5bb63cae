package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cyx-sec/cyx/pkg/cache/sqlite"
	"github.com/cyx-sec/cyx/pkg/lookup"
	"github.com/cyx-sec/cyx/pkg/models"
	"github.com/cyx-sec/cyx/pkg/normalizer"
)

// fakeCache implements Cache for testing.
type fakeCache struct {
	stats   models.CacheStats
	entries []models.CachedQuery
	limit   int
	err     error
}

func (f *fakeCache) Stats(context.Context) (models.CacheStats, error) { return f.stats, f.err }

func (f *fakeCache) ListAll(_ context.Context, limit int) ([]models.CachedQuery, error) {
	f.limit = limit
	return f.entries, f.err
}

// fakeResolver implements Resolver for testing.
type fakeResolver struct {
	result   lookup.Result
	stored   []string
	storeErr error
}

func (f *fakeResolver) Key(query string) lookup.Result {
	return lookup.Result{Outcome: models.OutcomeMiss, Normalized: strings.ToLower(query), Hash: "00000000deadbeef"}
}

func (f *fakeResolver) Lookup(context.Context, string) (lookup.Result, error) { return f.result, nil }

func (f *fakeResolver) Remember(_ context.Context, _ lookup.Result, original, _, _, _ string) (int64, error) {
	if f.storeErr != nil {
		return 0, f.storeErr
	}
	f.stored = append(f.stored, original)
	return int64(len(f.stored)), nil
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name string, args any) ToolCallResult {
	t.Helper()
	rawArgs, _ := json.Marshal(args)
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: rawArgs})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`7`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) != 1 {
		t.Fatalf("got %d content blocks, want 1", len(result.Content))
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(&fakeCache{}, nil, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	_ = json.Unmarshal(data, &result)

	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version = %s, want %s", result.ProtocolVersion, ProtocolVersion)
	}
	if result.ServerInfo.Name != "cyx" || result.ServerInfo.Version != "test" {
		t.Errorf("server info = %+v", result.ServerInfo)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(&fakeCache{}, nil, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	_ = json.Unmarshal(data, &result)

	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("tool %s has no handler", tool.Name)
		}
	}
	for _, want := range []string{"cyx_cache_lookup", "cyx_cache_store", "cyx_cache_stats", "cyx_cache_list"} {
		if !names[want] {
			t.Errorf("missing tool: %s", want)
		}
	}
	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
}

func TestNotificationsGetNoResponse(t *testing.T) {
	srv := New(&fakeCache{}, nil, "test")
	input := `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/cancelled"}` + "\n"

	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %s", out.String())
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(&fakeCache{}, nil, "test")
	resp := sendAndReceive(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "resources/list"})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("expected method not found, got %+v", resp.Error)
	}
}

func TestParseError(t *testing.T) {
	srv := New(&fakeCache{}, nil, "test")
	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp.Error)
	}
}

func TestUnknownTool(t *testing.T) {
	srv := New(&fakeCache{}, nil, "test")
	result := callTool(t, srv, "cyx_nope", nil)
	if !result.IsError {
		t.Error("expected isError for unknown tool")
	}
}

func TestCacheStatsTool(t *testing.T) {
	srv := New(&fakeCache{stats: models.CacheStats{TotalEntries: 4, TotalSizeBytes: 1500, HitCount: 3, MissCount: 1}}, nil, "test")
	result := callTool(t, srv, "cyx_cache_stats", nil)
	text := result.Content[0].Text
	for _, want := range []string{"Entries:   4", "Size:      1.5 kB", "Hits:      3", "Hit Rate:  75.0%"} {
		if !strings.Contains(text, want) {
			t.Errorf("stats output missing %q:\n%s", want, text)
		}
	}
}

func TestCacheStatsToolError(t *testing.T) {
	srv := New(&fakeCache{err: errors.New("database is locked")}, nil, "test")
	result := callTool(t, srv, "cyx_cache_stats", nil)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "database is locked") {
		t.Errorf("expected error result, got %+v", result)
	}
}

func TestCacheListTool(t *testing.T) {
	cache := &fakeCache{entries: []models.CachedQuery{{
		QueryHash:     "0123456789abcdef",
		QueryOriginal: "how do I run an nmap syn scan against a whole subnet quickly",
		Provider:      "groq",
		AccessCount:   2,
		LastAccessed:  time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC),
		Response:      "nmap -sS 10.0.0.0/24",
	}}}
	srv := New(cache, nil, "test")

	text := callTool(t, srv, "cyx_cache_list", nil).Content[0].Text
	if cache.limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", cache.limit, defaultListLimit)
	}
	if !strings.Contains(text, "0123456789abcdef") || !strings.Contains(text, "2026-04-01 09:30:00") {
		t.Errorf("unexpected list output:\n%s", text)
	}
	if !strings.Contains(text, "how do I run an nmap syn sc...") {
		t.Errorf("long query not truncated:\n%s", text)
	}

	callTool(t, srv, "cyx_cache_list", map[string]any{"limit": 0})
	if cache.limit != 0 {
		t.Errorf("limit = %d, want 0", cache.limit)
	}

	empty := New(&fakeCache{}, nil, "test")
	if text := callTool(t, empty, "cyx_cache_list", nil).Content[0].Text; text != "No cached queries found." {
		t.Errorf("unexpected empty output: %s", text)
	}
}

func TestLookupAndStoreDisabled(t *testing.T) {
	srv := New(&fakeCache{}, nil, "test")
	for _, tool := range []string{"cyx_cache_lookup", "cyx_cache_store"} {
		text := callTool(t, srv, tool, map[string]any{"query": "nmap", "response": "x"}).Content[0].Text
		if text != "Cache is disabled." {
			t.Errorf("%s: got %q", tool, text)
		}
	}
}

func TestLookupTool(t *testing.T) {
	res := &fakeResolver{result: lookup.Result{
		Outcome: models.OutcomeSimilarHit,
		Score:   0.93,
		Entry: &models.CachedQuery{
			QueryOriginal: "nmap syn scan",
			Provider:      "groq",
			Model:         "llama",
			Response:      "nmap -sS target",
		},
	}}
	srv := New(&fakeCache{}, res, "test")

	result := callTool(t, srv, "cyx_cache_lookup", queryArgs{Query: "nmap stealth scan"})
	text := result.Content[0].Text
	if result.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, `similar to "nmap syn scan", score 0.930`) || !strings.Contains(text, "nmap -sS target") {
		t.Errorf("unexpected lookup output:\n%s", text)
	}

	if r := callTool(t, srv, "cyx_cache_lookup", queryArgs{}); !r.IsError {
		t.Error("expected error for empty query")
	}
}

func TestStoreTool(t *testing.T) {
	res := &fakeResolver{}
	srv := New(&fakeCache{}, res, "test")

	result := callTool(t, srv, "cyx_cache_store", storeArgs{Query: "Nmap SYN", Response: "nmap -sS"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content[0].Text)
	}
	if len(res.stored) != 1 || res.stored[0] != "Nmap SYN" {
		t.Errorf("stored = %v", res.stored)
	}
	if !strings.Contains(result.Content[0].Text, "00000000deadbeef") {
		t.Errorf("hash missing from output: %s", result.Content[0].Text)
	}

	if r := callTool(t, srv, "cyx_cache_store", storeArgs{Query: "nmap"}); !r.IsError {
		t.Error("expected error for missing response")
	}

	res.storeErr = errors.New("disk full")
	if r := callTool(t, srv, "cyx_cache_store", storeArgs{Query: "nmap", Response: "x"}); !r.IsError {
		t.Error("expected error when storing fails")
	}
}

func TestServerWithSQLiteCache(t *testing.T) {
	c, err := sqlite.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	n, err := normalizer.New(models.DefaultNormalizationConfig(),
		normalizer.NewLexicon(map[string]string{"nmap": "network mapper nmap"}, []string{"how", "do", "i"}))
	if err != nil {
		t.Fatal(err)
	}
	srv := New(c, lookup.New(n, c, 0.8), "test")

	if r := callTool(t, srv, "cyx_cache_lookup", queryArgs{Query: "how do I nmap"}); !strings.HasPrefix(r.Content[0].Text, "Cache miss") {
		t.Errorf("expected miss, got %s", r.Content[0].Text)
	}
	callTool(t, srv, "cyx_cache_store", storeArgs{Query: "how do I nmap", Response: "nmap -sV host", Provider: "groq"})
	r := callTool(t, srv, "cyx_cache_lookup", queryArgs{Query: "NMAP"})
	if !strings.Contains(r.Content[0].Text, "exact match") || !strings.Contains(r.Content[0].Text, "nmap -sV host") {
		t.Errorf("expected exact hit, got %s", r.Content[0].Text)
	}

	stats := callTool(t, srv, "cyx_cache_stats", nil).Content[0].Text
	if !strings.Contains(stats, "Entries:   1") || !strings.Contains(stats, "Hits:      1") {
		t.Errorf("unexpected stats:\n%s", stats)
	}
}
