package mcp

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/cyx-sec/cyx/pkg/lookup"
	"github.com/cyx-sec/cyx/pkg/models"
)

const responsePreview = 60

// formatLookup reports a lookup outcome and, on a hit, the cached answer.
func formatLookup(res lookup.Result) string {
	var b strings.Builder
	switch res.Outcome {
	case models.OutcomeExactHit:
		b.WriteString("Cache hit (exact match).\n")
	case models.OutcomeSimilarHit:
		fmt.Fprintf(&b, "Cache hit (similar to %q, score %.3f).\n", res.Entry.QueryOriginal, res.Score)
	default:
		fmt.Fprintf(&b, "Cache miss for %q (hash %s).", res.Normalized, res.Hash)
		return b.String()
	}
	fmt.Fprintf(&b, "Provider: %s  Model: %s  Cached: %s\n\n",
		orDash(res.Entry.Provider), orDash(res.Entry.Model), res.Entry.CreatedAt.Format("2006-01-02 15:04:05"))
	b.WriteString(res.Entry.Response)
	return b.String()
}

func formatStored(id int64, key lookup.Result) string {
	return fmt.Sprintf("Stored entry %d for %q (hash %s).", id, key.Normalized, key.Hash)
}

// formatStats formats cache statistics as a text block.
func formatStats(s models.CacheStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entries:   %d\n", s.TotalEntries)
	fmt.Fprintf(&b, "Size:      %s\n", humanize.Bytes(uint64(max(s.TotalSizeBytes, 0))))
	fmt.Fprintf(&b, "Hits:      %d\n", s.HitCount)
	fmt.Fprintf(&b, "Misses:    %d\n", s.MissCount)
	fmt.Fprintf(&b, "Hit Rate:  %.1f%%\n", s.HitRate())
	if s.OldestEntry != nil {
		fmt.Fprintf(&b, "Oldest:    %s\n", s.OldestEntry.Format("2006-01-02 15:04:05"))
	}
	if s.NewestEntry != nil {
		fmt.Fprintf(&b, "Newest:    %s\n", s.NewestEntry.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// formatEntries formats cache entries as a text table.
func formatEntries(entries []models.CachedQuery) string {
	if len(entries) == 0 {
		return "No cached queries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s  %-30s %-12s %6s  %-19s  %s\n",
		"Hash", "Query", "Provider", "Hits", "Last Access", "Response")
	b.WriteString(strings.Repeat("-", 120) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-16s  %-30s %-12s %6d  %-19s  %s\n",
			e.QueryHash,
			truncate(e.QueryOriginal, 30),
			truncate(orDash(e.Provider), 12),
			e.AccessCount,
			e.LastAccessed.Format("2006-01-02 15:04:05"),
			truncate(strings.Join(strings.Fields(e.Response), " "), responsePreview))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
