// Package lookup answers queries from the cache before falling back to a
// provider: an exact hash match is tried first, then the closest stored entry
// by embedding similarity, and only then a fresh fetch whose answer is stored
// for next time.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cyx-sec/cyx/pkg/models"
	"github.com/cyx-sec/cyx/pkg/normalizer"
)

// DefaultThreshold is the minimum cosine similarity for a similar hit.
const DefaultThreshold float32 = 0.80

// ErrStoreFailed wraps a storage failure after a fresh response was fetched.
// The response in the accompanying Answer is still valid.
var ErrStoreFailed = errors.New("cache store failed")

// Store is the subset of the cache used by a Resolver.
type Store interface {
	GetByHash(ctx context.Context, hash string) (*models.CachedQuery, error)
	SearchSimilar(ctx context.Context, normalized string, threshold float32, limit int) ([]models.SimilarMatch, error)
	Touch(ctx context.Context, hash string) (bool, error)
	Store(ctx context.Context, original, normalized, hash, response, provider, model string) (int64, error)
}

// Result describes how a query was resolved against the cache.
type Result struct {
	Outcome    models.LookupOutcome
	Entry      *models.CachedQuery
	Score      float32
	Normalized string
	Hash       string
}

// FetchResult is a response produced outside the cache.
type FetchResult struct {
	Response string
	Provider string
	Model    string
}

// Fetcher produces a fresh response for a query, usually by calling an LLM
// provider.
type Fetcher func(ctx context.Context, query string) (FetchResult, error)

// Answer is the response to a query together with where it came from.
type Answer struct {
	Result
	Response string
	Provider string
	Model    string
}

// Cached reports whether the response was served from the cache.
func (a Answer) Cached() bool { return a.Outcome.Hit() }

// Resolver runs the cache-aside flow for queries.
type Resolver struct {
	normalizer *normalizer.Normalizer
	store      Store
	threshold  float32
	logger     *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a Resolver. A threshold outside (0, 1] selects
// DefaultThreshold.
func New(n *normalizer.Normalizer, store Store, threshold float32, opts ...Option) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	r := &Resolver{
		normalizer: n,
		store:      store,
		threshold:  threshold,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Threshold returns the similarity threshold in use.
func (r *Resolver) Threshold() float32 { return r.threshold }

// Key normalizes query and computes its cache key without touching the
// store. The returned Result has OutcomeMiss.
func (r *Resolver) Key(query string) Result {
	normalized := r.normalizer.Normalize(query)
	return Result{
		Outcome:    models.OutcomeMiss,
		Normalized: normalized,
		Hash:       r.normalizer.ComputeHash(normalized),
	}
}

// Lookup resolves query against the cache. Storage errors on this read path
// are logged and reported as a miss.
func (r *Resolver) Lookup(ctx context.Context, query string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := r.Key(query)
	normalized := res.Normalized
	log := r.logger.With(zap.String("hash", res.Hash))

	entry, err := r.store.GetByHash(ctx, res.Hash)
	switch {
	case err != nil:
		log.Warn("exact lookup failed", zap.Error(err))
	case entry != nil:
		log.Debug("exact cache hit")
		res.Outcome = models.OutcomeExactHit
		res.Entry = entry
		res.Score = 1
		return res, nil
	}

	matches, err := r.store.SearchSimilar(ctx, normalized, r.threshold, 1)
	if err != nil {
		log.Warn("similarity search failed", zap.Error(err))
		return res, nil
	}
	if len(matches) == 0 {
		log.Debug("cache miss")
		return res, nil
	}

	best := matches[0]
	if _, err := r.store.Touch(ctx, best.Entry.QueryHash); err != nil {
		log.Warn("record similar hit", zap.Error(err))
	}
	log.Debug("similar cache hit",
		zap.String("matched_hash", best.Entry.QueryHash),
		zap.Float32("score", best.Score))

	res.Outcome = models.OutcomeSimilarHit
	res.Entry = &best.Entry
	res.Score = best.Score
	return res, nil
}

// Remember stores a fresh response for a query resolved by Lookup.
func (r *Resolver) Remember(ctx context.Context, res Result, original, response, provider, model string) (int64, error) {
	id, err := r.store.Store(ctx, original, res.Normalized, res.Hash, response, provider, model)
	if err != nil {
		return 0, fmt.Errorf("remember %s: %w", res.Hash, err)
	}
	return id, nil
}

// Answer serves query from the cache when possible and otherwise calls fetch
// and stores its result. If storing fails the fetched response is returned
// together with an error wrapping ErrStoreFailed.
func (r *Resolver) Answer(ctx context.Context, query string, fetch Fetcher) (Answer, error) {
	res, err := r.Lookup(ctx, query)
	if err != nil {
		return Answer{}, err
	}
	if res.Outcome.Hit() {
		return Answer{
			Result:   res,
			Response: res.Entry.Response,
			Provider: res.Entry.Provider,
			Model:    res.Entry.Model,
		}, nil
	}

	fr, err := fetch(ctx, query)
	if err != nil {
		return Answer{Result: res}, fmt.Errorf("fetch response: %w", err)
	}
	ans := Answer{
		Result:   res,
		Response: fr.Response,
		Provider: fr.Provider,
		Model:    fr.Model,
	}

	if _, err := r.Remember(ctx, res, query, fr.Response, fr.Provider, fr.Model); err != nil {
		r.logger.Error("caching response failed", zap.String("hash", res.Hash), zap.Error(err))
		return ans, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return ans, nil
}
