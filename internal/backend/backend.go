// Package backend defines the storage backend contract the driver trains and
// generates through, and a registry of implementations keyed by name.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/agentic-research/markov/api"
	"github.com/agentic-research/markov/internal/chain"
	"github.com/agentic-research/markov/internal/logger"
	"github.com/agentic-research/markov/internal/token"
)

// Backend trains chains from input files, merges them and generates from the
// result. Train may run concurrently for different files; every other method
// is called from one goroutine.
type Backend interface {
	// TrainBegin runs once before any Train call with every input file.
	TrainBegin(ctx context.Context, files []string) error
	// Train builds the chain of one file.
	Train(ctx context.Context, file string) (chain.Model, error)
	// Merge combines the partial chains after every Train call returned.
	Merge(ctx context.Context, parts []chain.Model) (chain.Model, error)
	// Out generates one sequence from m into w.
	Out(ctx context.Context, m chain.Model, w io.Writer) error
	Load(ctx context.Context, id string) (chain.Model, error)
	Save(ctx context.Context, id string, m chain.Model) error
	Close() error
}

// Cache is implemented by backends that can tell whether a persisted chain
// exists. Backends without it keep their chain in the file named by the id.
type Cache interface {
	// Exists reports whether Load(ctx, id) finds a chain.
	Exists(ctx context.Context, id string) (bool, error)
	// FileBacked reports whether the id passed to Load and Save names a file.
	FileBacked() bool
}

// CacheExists reports whether b holds a persisted chain under id.
func CacheExists(ctx context.Context, b Backend, id string) (bool, error) {
	if c, ok := b.(Cache); ok {
		return c.Exists(ctx, id)
	}
	return fileExists(id), nil
}

// NeedsCacheFile reports whether Load and Save of b address a file.
func NeedsCacheFile(b Backend) bool {
	c, ok := b.(Cache)
	return !ok || c.FileBacked()
}

// Factory builds a backend from resolved options.
type Factory func(ctx context.Context, name string, opts api.Options, log *logger.Logger) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. It panics on duplicates.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("backend: Register called twice for " + name)
	}
	registry[name] = f
}

// Names lists the registered backends in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New validates opts and builds the backend registered under name.
func New(ctx context.Context, name string, opts api.Options, log *logger.Logger) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q (have %v)", api.ErrConfig, name, Names())
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return f(ctx, name, opts, log.With("backend", name))
}

// common holds what every backend derives from the options.
type common struct {
	opts api.Options
	tk   *token.Tokenizer
	log  *logger.Logger
}

func newCommon(opts api.Options, log *logger.Logger) (*common, error) {
	tk, err := token.New(token.Config{
		Capture:    opts.Iter,
		Separator:  opts.Separator,
		SplitLines: opts.SplitStr,
	})
	if err != nil {
		return nil, err
	}
	return &common{opts: opts, tk: tk, log: log}, nil
}

// Out generates with the configured delimiter, cap and start mode.
func (c *common) Out(ctx context.Context, m chain.Model, w io.Writer) error {
	gen := chain.NewGenerator(m, chain.GenOptions{
		Delimiter:   c.opts.PrefixMiddle,
		MaxGen:      c.opts.MaxGen,
		RandomStart: c.opts.RndStart,
	})
	n, err := gen.Generate(ctx, w)
	if err != nil {
		return err
	}
	c.log.Debug("generated", "bytes", n)
	return nil
}

// fileExists treats stat errors other than absence as existing so Load
// reports them.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func readInput(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", api.ErrInput, path, err)
	}
	return string(data), nil
}
