package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cyx-sec/cyx/pkg/cache/sqlite"
	"github.com/cyx-sec/cyx/pkg/config"
	"github.com/cyx-sec/cyx/pkg/embedder"
	"github.com/cyx-sec/cyx/pkg/logger"
	"github.com/cyx-sec/cyx/pkg/lookup"
	"github.com/cyx-sec/cyx/pkg/normalizer"
)

func defaultConfigHint() string {
	return config.DefaultPath()
}

// cacheEnv bundles what a cache command needs. The normalizer is only
// built on demand because management commands work without lexicon files.
type cacheEnv struct {
	cfg   *config.Config
	log   *zap.Logger
	cache *sqlite.Cache
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	if opts.configPath == "" {
		return config.LoadOrDefault(config.DefaultPath())
	}
	return config.Load(opts.configPath)
}

func loadNormalizer(cfg *config.Config) (*normalizer.Normalizer, error) {
	n, err := normalizer.NewFromDirs(cfg.Cache.Normalization, cfg.DataDirCandidates())
	if err != nil {
		return nil, fmt.Errorf("load normalizer: %w", err)
	}
	return n, nil
}

func openCacheEnv(opts *globalOptions) (*cacheEnv, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(opts.logLevel)
	if err != nil {
		return nil, err
	}

	c, err := sqlite.New(cfg.Cache.Dir,
		sqlite.WithEmbedder(embedder.New(cfg.Cache.EmbeddingDimensions)),
		sqlite.WithLogger(log.Named("cache")),
	)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	log.Debug("cache opened", zap.String("path", c.Path()))

	return &cacheEnv{cfg: cfg, log: log, cache: c}, nil
}

func (e *cacheEnv) resolver() (*lookup.Resolver, error) {
	n, err := loadNormalizer(e.cfg)
	if err != nil {
		return nil, err
	}
	return lookup.New(n, e.cache, e.cfg.Cache.SimilarityThreshold, lookup.WithLogger(e.log.Named("lookup"))), nil
}

func (e *cacheEnv) Close() error {
	_ = e.log.Sync()
	return e.cache.Close()
}
