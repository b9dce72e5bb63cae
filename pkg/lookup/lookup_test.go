package lookup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cyx-sec/cyx/pkg/cache/sqlite"
	"github.com/cyx-sec/cyx/pkg/models"
	"github.com/cyx-sec/cyx/pkg/normalizer"
)

var errDisk = errors.New("disk I/O error")

type fakeStore struct {
	exact      map[string]*models.CachedQuery
	similar    []models.SimilarMatch
	getErr     error
	searchErr  error
	storeErr   error
	touched    []string
	stored     []string
	thresholds []float32
}

func (f *fakeStore) GetByHash(_ context.Context, hash string) (*models.CachedQuery, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.exact[hash], nil
}

func (f *fakeStore) SearchSimilar(_ context.Context, _ string, threshold float32, _ int) ([]models.SimilarMatch, error) {
	f.thresholds = append(f.thresholds, threshold)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.similar, nil
}

func (f *fakeStore) Touch(_ context.Context, hash string) (bool, error) {
	f.touched = append(f.touched, hash)
	return true, nil
}

func (f *fakeStore) Store(_ context.Context, _, _, hash, _, _, _ string) (int64, error) {
	if f.storeErr != nil {
		return 0, f.storeErr
	}
	f.stored = append(f.stored, hash)
	return int64(len(f.stored)), nil
}

func newTestNormalizer(t *testing.T) *normalizer.Normalizer {
	t.Helper()
	lex := normalizer.NewLexicon(
		map[string]string{"nmap": "network mapper nmap", "syn": "stealth synchronize"},
		[]string{"how", "do", "i", "a", "the", "with"},
	)
	cfg := models.DefaultNormalizationConfig()
	cfg.RemovePunctuation = true
	n, err := normalizer.New(cfg, lex)
	require.NoError(t, err)
	return n
}

func fetchConst(resp string) Fetcher {
	return func(context.Context, string) (FetchResult, error) {
		return FetchResult{Response: resp, Provider: "claude", Model: "claude-sonnet"}, nil
	}
}

func TestNewThreshold(t *testing.T) {
	n := newTestNormalizer(t)
	assert.Equal(t, DefaultThreshold, New(n, &fakeStore{}, 0).Threshold())
	assert.Equal(t, DefaultThreshold, New(n, &fakeStore{}, 1.5).Threshold())
	assert.Equal(t, float32(0.6), New(n, &fakeStore{}, 0.6).Threshold())
}

func TestLookupExactHit(t *testing.T) {
	n := newTestNormalizer(t)
	hash := n.ComputeHash(n.Normalize("nmap syn scan"))
	store := &fakeStore{exact: map[string]*models.CachedQuery{
		hash: {QueryHash: hash, Response: "nmap -sS"},
	}}

	res, err := New(n, store, 0.8).Lookup(context.Background(), "How do I NMAP syn scan?")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExactHit, res.Outcome)
	assert.Equal(t, "network mapper nmap stealth synchronize scan", res.Normalized)
	assert.Equal(t, hash, res.Hash)
	assert.Equal(t, "nmap -sS", res.Entry.Response)
	assert.Empty(t, store.thresholds, "similarity search runs only after an exact miss")
	assert.Empty(t, store.touched)
}

func TestLookupSimilarHit(t *testing.T) {
	n := newTestNormalizer(t)
	store := &fakeStore{similar: []models.SimilarMatch{
		{Entry: models.CachedQuery{QueryHash: "aaaa", Response: "close enough"}, Score: 0.91},
	}}

	res, err := New(n, store, 0.85).Lookup(context.Background(), "nmap syn scan ports")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSimilarHit, res.Outcome)
	assert.Equal(t, float32(0.91), res.Score)
	assert.Equal(t, "close enough", res.Entry.Response)
	assert.Equal(t, []float32{0.85}, store.thresholds)
	assert.Equal(t, []string{"aaaa"}, store.touched)
}

func TestLookupMiss(t *testing.T) {
	res, err := New(newTestNormalizer(t), &fakeStore{}, 0.8).Lookup(context.Background(), "sqlmap tamper scripts")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMiss, res.Outcome)
	assert.Nil(t, res.Entry)
	assert.NotEmpty(t, res.Hash)
}

func TestLookupReadErrorsDegradeToMiss(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &fakeStore{getErr: errDisk, searchErr: errDisk}

	r := New(newTestNormalizer(t), store, 0.8, WithLogger(zap.New(core)))
	res, err := r.Lookup(context.Background(), "nmap syn scan")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMiss, res.Outcome)

	assert.Equal(t, 1, logs.FilterMessage("exact lookup failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("similarity search failed").Len())
}

func TestLookupCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(newTestNormalizer(t), &fakeStore{}, 0.8).Lookup(ctx, "nmap")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnswerMissFetchesAndStores(t *testing.T) {
	store := &fakeStore{}
	r := New(newTestNormalizer(t), store, 0.8)

	ans, err := r.Answer(context.Background(), "nmap syn scan", fetchConst("nmap -sS target"))
	require.NoError(t, err)
	assert.False(t, ans.Cached())
	assert.Equal(t, "nmap -sS target", ans.Response)
	assert.Equal(t, "claude", ans.Provider)
	assert.Equal(t, []string{ans.Hash}, store.stored)
}

func TestAnswerHitSkipsFetch(t *testing.T) {
	n := newTestNormalizer(t)
	hash := n.ComputeHash(n.Normalize("nmap syn scan"))
	store := &fakeStore{exact: map[string]*models.CachedQuery{
		hash: {QueryHash: hash, Response: "cached", Provider: "openai", Model: "gpt-4"},
	}}

	ans, err := New(n, store, 0.8).Answer(context.Background(), "nmap syn scan",
		func(context.Context, string) (FetchResult, error) {
			t.Fatal("fetch called on a cache hit")
			return FetchResult{}, nil
		})
	require.NoError(t, err)
	assert.True(t, ans.Cached())
	assert.Equal(t, "cached", ans.Response)
	assert.Equal(t, "openai", ans.Provider)
	assert.Equal(t, "gpt-4", ans.Model)
	assert.Empty(t, store.stored)
}

func TestAnswerStoreFailureKeepsResponse(t *testing.T) {
	store := &fakeStore{storeErr: errDisk}
	r := New(newTestNormalizer(t), store, 0.8)

	ans, err := r.Answer(context.Background(), "nmap syn scan", fetchConst("fresh"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreFailed)
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, "fresh", ans.Response)
}

func TestAnswerFetchError(t *testing.T) {
	store := &fakeStore{}
	r := New(newTestNormalizer(t), store, 0.8)

	_, err := r.Answer(context.Background(), "nmap", func(context.Context, string) (FetchResult, error) {
		return FetchResult{}, errors.New("provider unavailable")
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStoreFailed)
	assert.Empty(t, store.stored)
}

func TestResolverWithSQLiteCache(t *testing.T) {
	ctx := context.Background()
	c, err := sqlite.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	r := New(newTestNormalizer(t), c, 0.5)
	calls := 0
	fetch := func(context.Context, string) (FetchResult, error) {
		calls++
		return FetchResult{Response: "nmap -sS 10.0.0.1", Provider: "claude", Model: "claude-sonnet"}, nil
	}

	first, err := r.Answer(ctx, "How do I nmap syn scan?", fetch)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMiss, first.Outcome)

	exact, err := r.Answer(ctx, "  NMAP   SYN scan  ", fetch)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExactHit, exact.Outcome)
	assert.Equal(t, "nmap -sS 10.0.0.1", exact.Response)

	similar, err := r.Answer(ctx, "nmap syn scan ports", fetch)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSimilarHit, similar.Outcome)
	assert.GreaterOrEqual(t, similar.Score, float32(0.5))
	assert.Equal(t, 1, calls)

	fresh, err := r.Answer(ctx, "sql injection union payloads", fetch)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMiss, fresh.Outcome)
	assert.Equal(t, 2, calls)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalEntries)
	// Exact hit on the second call; the other three were exact misses.
	assert.EqualValues(t, 1, stats.HitCount)
	assert.EqualValues(t, 3, stats.MissCount)

	entries, err := c.ListAll(ctx, 0)
	require.NoError(t, err)
	for _, e := range entries {
		if e.QueryNormalized == "network mapper nmap stealth synchronize scan" {
			assert.EqualValues(t, 3, e.AccessCount)
		}
	}
}

func TestKeyDoesNotTouchStore(t *testing.T) {
	store := &fakeStore{getErr: errDisk}
	res := New(newTestNormalizer(t), store, 0.8).Key("NMAP syn scan")
	assert.Equal(t, models.OutcomeMiss, res.Outcome)
	assert.Equal(t, "network mapper nmap stealth synchronize scan", res.Normalized)
	assert.Equal(t, normalizer.ComputeHash(res.Normalized), res.Hash)
	assert.Empty(t, store.thresholds)
}
