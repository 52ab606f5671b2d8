package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentic-research/markov/api"
	"github.com/agentic-research/markov/internal/chain"
	"github.com/agentic-research/markov/internal/logger"
	"github.com/agentic-research/markov/internal/sqlstore"
)

func init() {
	for _, dialect := range []string{"sqlite", "postgres", "mysql"} {
		Register(dialect, newRelational)
	}
}

// Relational keeps the chain in a database. TrainBegin interns every token
// of every file, then each Train call writes its facts in its own
// transaction. The database is the chain, so Merge only builds the index and
// Load/Save need no file.
type Relational struct {
	*common
	store     *sqlstore.Store
	schema    sync.Once
	schemaErr error
}

func newRelational(ctx context.Context, name string, opts api.Options, log *logger.Logger) (Backend, error) {
	c, err := newCommon(opts, log)
	if err != nil {
		return nil, err
	}
	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Dialect: name,
		Storage: opts.Storage,
		Order:   opts.N,
	}, log)
	if err != nil {
		return nil, err
	}
	return &Relational{common: c, store: store}, nil
}

// Store exposes the underlying store.
func (b *Relational) Store() *sqlstore.Store { return b.store }

func (b *Relational) ensureSchema(ctx context.Context) error {
	b.schema.Do(func() { b.schemaErr = b.store.EnsureSchema(ctx) })
	return b.schemaErr
}

func (b *Relational) TrainBegin(ctx context.Context, files []string) error {
	if err := b.ensureSchema(ctx); err != nil {
		return err
	}
	b.log.Info("building dictionary", "files", len(files))
	added, err := b.store.BuildDictionary(ctx, func(intern func(string) error) error {
		for _, file := range files {
			text, err := readInput(file)
			if err != nil {
				return err
			}
			err = b.tk.Each(text, func(tok string, _ bool) error {
				return intern(tok)
			})
			if err != nil {
				return fmt.Errorf("tokenize %s: %w", file, err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.log.Info("dictionary ready", "new_tokens", added)
	return nil
}

func (b *Relational) Train(ctx context.Context, file string) (chain.Model, error) {
	text, err := readInput(file)
	if err != nil {
		return nil, err
	}
	w, err := b.store.Writer(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := chain.Train(b.tk, b.opts.N, text, w); err != nil {
		_ = w.Rollback()
		return nil, fmt.Errorf("train %s: %w", file, err)
	}
	if err := w.Commit(); err != nil {
		return nil, err
	}
	b.log.Debug("trained", "file", file, "rows", w.Rows())
	return b.store, nil
}

// Merge builds the context index once every writer has committed. Bulk
// loading never maintains it.
func (b *Relational) Merge(ctx context.Context, _ []chain.Model) (chain.Model, error) {
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	b.log.Info("building index")
	if err := b.store.BuildIndex(ctx); err != nil {
		return nil, err
	}
	return b.store, nil
}

// Load returns the stored chain; id is not used.
func (b *Relational) Load(context.Context, string) (chain.Model, error) {
	if !b.store.Ready() {
		return nil, fmt.Errorf("%w: %s database holds no chain yet", api.ErrInput, b.store.Dialect())
	}
	return b.store, nil
}

// Exists reports whether the database already holds the chain tables; id is
// not used.
func (b *Relational) Exists(context.Context, string) (bool, error) {
	return b.store.Ready(), nil
}

func (b *Relational) FileBacked() bool { return false }

// Save is a no-op: every committed transaction is already persistent.
func (b *Relational) Save(context.Context, string, chain.Model) error { return nil }

func (b *Relational) Close() error { return b.store.Close() }
