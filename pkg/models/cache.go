package models

import "time"

// CachedQuery is a persisted cache entry: a query, its canonical form and the
// model answer that was produced for it.
type CachedQuery struct {
	ID              int64     `json:"id"`
	QueryOriginal   string    `json:"query_original"`
	QueryNormalized string    `json:"query_normalized"`
	QueryHash       string    `json:"query_hash"`
	Embedding       []float32 `json:"embedding,omitempty"`
	Response        string    `json:"response"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	LastAccessed    time.Time `json:"last_accessed"`
	AccessCount     int64     `json:"access_count"`
}

// SimilarMatch pairs a cached entry with its cosine similarity to a query.
type SimilarMatch struct {
	Entry CachedQuery `json:"entry"`
	Score float32     `json:"score"`
}

// CacheStats reports aggregate cache metrics.
type CacheStats struct {
	TotalEntries   int64      `json:"total_entries"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	HitCount       int64      `json:"hit_count"`
	MissCount      int64      `json:"miss_count"`
	OldestEntry    *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry    *time.Time `json:"newest_entry,omitempty"`
}

// HitRate returns hits as a percentage of all lookups, or 0 with no lookups.
func (s CacheStats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total) * 100
}

// LookupOutcome is the terminal state of a cache lookup.
type LookupOutcome string

const (
	OutcomeExactHit   LookupOutcome = "exact"
	OutcomeSimilarHit LookupOutcome = "similar"
	OutcomeMiss       LookupOutcome = "miss"
)

// Hit reports whether the outcome produced a cached response.
func (o LookupOutcome) Hit() bool {
	return o == OutcomeExactHit || o == OutcomeSimilarHit
}
