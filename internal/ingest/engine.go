package ingest

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/agentic-research/markov/api"
	"github.com/agentic-research/markov/internal/backend"
	"github.com/agentic-research/markov/internal/chain"
	"github.com/agentic-research/markov/internal/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// CacheMode selects what happens to the cache around training.
type CacheMode string

const (
	// CacheNone trains and generates.
	CacheNone CacheMode = ""
	// CacheRead loads the cache and generates; no input files.
	CacheRead CacheMode = "r"
	// CacheWrite trains and saves; no output.
	CacheWrite CacheMode = "w"
	// CacheAppend merges new training into the cache (if present) and saves.
	CacheAppend CacheMode = "a"
)

// ParseCacheMode accepts "", "r", "w" and "a".
func ParseCacheMode(s string) (CacheMode, error) {
	switch m := CacheMode(s); m {
	case CacheNone, CacheRead, CacheWrite, CacheAppend:
		return m, nil
	}
	return "", fmt.Errorf("%w: invalid cache operation %q (want r, w, a or empty)", api.ErrConfig, s)
}

// Config is one driver run.
type Config struct {
	Files []string
	// Jobs bounds concurrent Train calls; values below 1 mean 1.
	Jobs      int
	Cache     CacheMode
	CacheFile string
	// NoEnd suppresses the trailing newline after generated output.
	NoEnd bool
}

// Engine drives a backend through training, merging, caching and output.
type Engine struct {
	Backend backend.Backend
	cfg     Config
	log     *logger.Logger
}

// NewEngine checks the run configuration and that every input file exists.
func NewEngine(b backend.Backend, cfg Config, log *logger.Logger) (*Engine, error) {
	if _, err := ParseCacheMode(string(cfg.Cache)); err != nil {
		return nil, err
	}
	switch {
	case cfg.Cache == CacheRead && len(cfg.Files) > 0:
		return nil, fmt.Errorf("%w: input files are not used when reading from cache", api.ErrConfig)
	case cfg.Cache != CacheRead && len(cfg.Files) == 0:
		return nil, fmt.Errorf("%w: input files are required", api.ErrConfig)
	case cfg.Cache != CacheNone && cfg.CacheFile == "" && backend.NeedsCacheFile(b):
		return nil, fmt.Errorf("%w: cache operation %q needs a cache file", api.ErrConfig, cfg.Cache)
	}
	for _, f := range cfg.Files {
		if _, err := os.Stat(f); err != nil {
			return nil, fmt.Errorf("%w: file `%s` not found: %w", api.ErrInput, f, err)
		}
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{Backend: b, cfg: cfg, log: log}, nil
}

// Build loads and/or trains according to the cache mode and returns the
// chain without saving or generating.
func (e *Engine) Build(ctx context.Context) (chain.Model, error) {
	return e.build(ctx, e.log.With("run", uuid.NewString()))
}

func (e *Engine) build(ctx context.Context, log *logger.Logger) (chain.Model, error) {
	mode := e.cfg.Cache
	var model chain.Model
	loadCache := mode == CacheRead
	if mode == CacheAppend {
		var err error
		if loadCache, err = backend.CacheExists(ctx, e.Backend, e.cfg.CacheFile); err != nil {
			return nil, err
		}
	}
	if loadCache {
		var err error
		if model, err = e.Backend.Load(ctx, e.cfg.CacheFile); err != nil {
			return nil, err
		}
		log.Info("cache loaded", "cache", e.cfg.CacheFile)
	}
	if mode == CacheRead {
		return model, nil
	}

	parts, err := e.trainAll(ctx, log)
	if err != nil {
		return nil, err
	}
	if loadCache {
		parts = append(parts, model)
	}
	if model, err = e.Backend.Merge(ctx, parts); err != nil {
		return nil, err
	}
	log.Info("training finished", "files", len(e.cfg.Files))
	return model, nil
}

// Run executes the configured cache operation and, unless the cache is being
// written, generates one sequence into out. It returns the final chain.
func (e *Engine) Run(ctx context.Context, out io.Writer) (chain.Model, error) {
	log := e.log.With("run", uuid.NewString())
	model, err := e.build(ctx, log)
	if err != nil {
		return nil, err
	}

	if e.cfg.Cache == CacheWrite || e.cfg.Cache == CacheAppend {
		if err := e.Backend.Save(ctx, e.cfg.CacheFile, model); err != nil {
			return nil, err
		}
		log.Info("cache saved", "cache", e.cfg.CacheFile)
		return model, nil
	}

	if err := e.Backend.Out(ctx, model, out); err != nil {
		return nil, err
	}
	if !e.cfg.NoEnd {
		if _, err := io.WriteString(out, "\n"); err != nil {
			return nil, err
		}
	}
	log.Debug("output finished")
	return model, nil
}

// trainAll trains every file on a bounded pool. The first failure cancels the
// rest; partial results land in per-file slots.
func (e *Engine) trainAll(ctx context.Context, log *logger.Logger) ([]chain.Model, error) {
	if err := e.Backend.TrainBegin(ctx, e.cfg.Files); err != nil {
		return nil, err
	}
	parts := make([]chain.Model, len(e.cfg.Files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Jobs)
	for i, file := range e.cfg.Files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			log.Info("started file", "file", file)
			m, err := e.Backend.Train(gctx, file)
			if err != nil {
				return err
			}
			parts[i] = m
			log.Info("finished file", "file", file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}
