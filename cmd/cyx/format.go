package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/cyx-sec/cyx/pkg/lookup"
	"github.com/cyx-sec/cyx/pkg/models"
)

const (
	timeLayout     = "2006-01-02 15:04:05"
	previewRunes   = 100
	statsRuleWidth = 60
	listRuleWidth  = 80
)

var (
	titleColor   = lipgloss.AdaptiveColor{Light: "#006B6B", Dark: "#00FFFF"}
	okColor      = lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"}
	warningColor = lipgloss.AdaptiveColor{Light: "#B36200", Dark: "#FFA500"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
)

// theme holds the output styles. The plain theme renders text unchanged.
type theme struct {
	title   lipgloss.Style
	label   lipgloss.Style
	ok      lipgloss.Style
	warning lipgloss.Style
	muted   lipgloss.Style
}

func newTheme(color bool) theme {
	if !color {
		s := lipgloss.NewStyle()
		return theme{title: s, label: s, ok: s, warning: s, muted: s}
	}
	return theme{
		title:   lipgloss.NewStyle().Bold(true).Foreground(titleColor),
		label:   lipgloss.NewStyle().Bold(true),
		ok:      lipgloss.NewStyle().Foreground(okColor),
		warning: lipgloss.NewStyle().Foreground(warningColor),
		muted:   lipgloss.NewStyle().Foreground(mutedColor),
	}
}

// formatStats renders cache statistics.
func formatStats(th theme, s models.CacheStats, dir string) string {
	var b strings.Builder
	b.WriteString(th.title.Render("Cache Statistics") + "\n")
	b.WriteString(strings.Repeat("─", statsRuleWidth) + "\n")
	fmt.Fprintf(&b, "  Total entries:  %s\n", th.ok.Render(humanize.Comma(s.TotalEntries)))
	fmt.Fprintf(&b, "  Cache size:     %s\n", th.ok.Render(formatSize(s.TotalSizeBytes)))
	fmt.Fprintf(&b, "  Hit count:      %s\n", th.ok.Render(humanize.Comma(s.HitCount)))
	fmt.Fprintf(&b, "  Miss count:     %s\n", th.warning.Render(humanize.Comma(s.MissCount)))
	if s.HitCount+s.MissCount > 0 {
		fmt.Fprintf(&b, "  Hit rate:       %.1f%%\n", s.HitRate())
	}
	if s.OldestEntry != nil {
		fmt.Fprintf(&b, "  Oldest entry:   %s\n", th.muted.Render(s.OldestEntry.Local().Format(timeLayout)))
	}
	if s.NewestEntry != nil {
		fmt.Fprintf(&b, "  Newest entry:   %s\n", th.muted.Render(s.NewestEntry.Local().Format(timeLayout)))
	}
	fmt.Fprintf(&b, "  Cache location: %s\n", th.muted.Render(dir))
	return b.String()
}

// formatEntries renders cached queries, most recent first.
func formatEntries(th theme, entries []models.CachedQuery, now time.Time) string {
	if len(entries) == 0 {
		return th.warning.Render("No cached queries yet.") + "\nRun some queries to populate the cache!\n"
	}

	var b strings.Builder
	b.WriteString(th.title.Render(fmt.Sprintf("Recent Cached Queries (showing %d)", len(entries))) + "\n")
	b.WriteString(strings.Repeat("─", listRuleWidth) + "\n")
	for _, e := range entries {
		b.WriteString("\n")
		fmt.Fprintf(&b, "  %s: %s\n", th.label.Render("Query"), e.QueryOriginal)
		fmt.Fprintf(&b, "  %s: %s\n", th.muted.Render("Hash"), th.muted.Render(e.QueryHash))
		fmt.Fprintf(&b, "  %s: %s | %s: %s\n",
			th.muted.Render("Provider"), e.Provider, th.muted.Render("Model"), e.Model)
		fmt.Fprintf(&b, "  %s: %d | %s: %s\n",
			th.muted.Render("Accessed"), e.AccessCount,
			th.muted.Render("Last access"), humanize.RelTime(e.LastAccessed, now, "ago", "from now"))
		fmt.Fprintf(&b, "  %s: %s\n", th.muted.Render("Response"), th.muted.Render(preview(e.Response, previewRunes)))
	}
	return b.String()
}

// formatLookup renders the outcome of a cache lookup.
func formatLookup(th theme, res lookup.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Normalized: %s\n", res.Normalized)
	fmt.Fprintf(&b, "  Hash:       %s\n", th.muted.Render(res.Hash))
	switch res.Outcome {
	case models.OutcomeExactHit:
		fmt.Fprintf(&b, "  Outcome:    %s\n", th.ok.Render("exact hit"))
	case models.OutcomeSimilarHit:
		fmt.Fprintf(&b, "  Outcome:    %s\n", th.ok.Render(fmt.Sprintf("similar hit (score %.3f)", res.Score)))
		fmt.Fprintf(&b, "  Matched:    %s\n", res.Entry.QueryOriginal)
	default:
		fmt.Fprintf(&b, "  Outcome:    %s\n", th.warning.Render("miss"))
		return b.String()
	}
	fmt.Fprintf(&b, "  Provider:   %s (%s)\n", res.Entry.Provider, res.Entry.Model)
	b.WriteString("\n" + res.Entry.Response + "\n")
	return b.String()
}

func formatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// preview shortens s to at most n runes, marking truncation with "...".
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
