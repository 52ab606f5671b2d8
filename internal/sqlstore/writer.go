package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentic-research/markov/api"
	"github.com/agentic-research/markov/internal/chain"
)

// DictWriter interns tokens inside one transaction. Ids are assigned
// sequentially after the current maximum, so only one DictWriter per store
// is open at a time; BeginDictionary blocks until the previous one finishes.
type DictWriter struct {
	s     *Store
	ctx   context.Context
	tx    *sql.Tx
	sel   *sql.Stmt
	ins   *sql.Stmt
	next  int64
	added int64
	done  bool
}

// BeginDictionary opens the dictionary transaction.
func (s *Store) BeginDictionary(ctx context.Context) (*DictWriter, error) {
	if s.selID == nil {
		return nil, fmt.Errorf("%w: schema of %s is not initialized", api.ErrStorage, s.dict)
	}
	s.dictMu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.dictMu.Unlock()
		return nil, storageErr("begin dictionary", err)
	}
	w := &DictWriter{s: s, ctx: ctx, tx: tx}

	var maxID int64
	if err := tx.QueryRowContext(ctx, s.q.maxID).Scan(&maxID); err != nil {
		_ = w.Rollback()
		return nil, storageErr("read dictionary size", err)
	}
	w.next = maxID + 1
	w.sel = tx.StmtContext(ctx, s.selID)
	if w.ins, err = tx.PrepareContext(ctx, s.q.insertDict); err != nil {
		_ = w.Rollback()
		return nil, storageErr("prepare dictionary insert", err)
	}
	return w, nil
}

// Intern returns the id of text, adding it to the dictionary if needed.
// Interning the same text twice yields the same id.
func (w *DictWriter) Intern(text string) (int64, error) {
	if w.done {
		return 0, fmt.Errorf("%w: dictionary transaction already finished", api.ErrStorage)
	}
	id, ok, err := w.s.lookupID(w.ctx, w.sel, text)
	if err != nil || ok {
		return id, err
	}
	res, err := w.ins.ExecContext(w.ctx, w.next, text)
	if err != nil {
		return 0, storageErr("insert token", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, fmt.Errorf("%w: dictionary id %d is already taken", api.ErrStorage, w.next)
	}
	id = w.next
	w.next++
	w.added++
	w.s.remember(text, id)
	return id, nil
}

// Added is the number of new dictionary rows so far.
func (w *DictWriter) Added() int64 { return w.added }

// Commit makes the new ids visible.
func (w *DictWriter) Commit() error {
	if w.done {
		return nil
	}
	defer w.finish()
	if err := w.tx.Commit(); err != nil {
		w.s.forget()
		return storageErr("commit dictionary", err)
	}
	return nil
}

// Rollback discards the transaction and every id it assigned.
func (w *DictWriter) Rollback() error {
	if w.done {
		return nil
	}
	defer w.finish()
	w.s.forget()
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return storageErr("rollback dictionary", err)
	}
	return nil
}

func (w *DictWriter) finish() {
	if w.ins != nil {
		_ = w.ins.Close()
	}
	if w.sel != nil {
		_ = w.sel.Close()
	}
	w.done = true
	w.s.dictMu.Unlock()
}

// forget drops cached ids, which may belong to an aborted transaction.
func (s *Store) forget() {
	s.ids.Purge()
	s.texts.Purge()
}

// BuildDictionary runs feed with an intern function inside one dictionary
// transaction and returns the number of new tokens.
func (s *Store) BuildDictionary(ctx context.Context, feed func(intern func(text string) error) error) (int64, error) {
	w, err := s.BeginDictionary(ctx)
	if err != nil {
		return 0, err
	}
	err = feed(func(text string) error {
		_, err := w.Intern(text)
		return err
	})
	if err != nil {
		_ = w.Rollback()
		return 0, err
	}
	if err := w.Commit(); err != nil {
		return 0, err
	}
	return w.Added(), nil
}

// Intern adds texts to the dictionary and returns their ids in order.
func (s *Store) Intern(ctx context.Context, texts ...string) ([]int64, error) {
	w, err := s.BeginDictionary(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(texts))
	for i, text := range texts {
		if ids[i], err = w.Intern(text); err != nil {
			_ = w.Rollback()
			return nil, err
		}
	}
	if err := w.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// FactWriter inserts transitions for one input inside its own transaction.
// Every token must already be in the dictionary. It implements chain.Sink.
type FactWriter struct {
	s    *Store
	ctx  context.Context
	tx   *sql.Tx
	ins  *sql.Stmt
	sel  *sql.Stmt
	args []any
	rows int64
	done bool
}

// Writer opens a fact transaction, at READ COMMITTED isolation when the
// store is configured for it and the engine supports it.
func (s *Store) Writer(ctx context.Context) (*FactWriter, error) {
	if s.selID == nil {
		return nil, fmt.Errorf("%w: schema of %s is not initialized", api.ErrStorage, s.table)
	}
	var opts *sql.TxOptions
	if s.readCommitted && s.d.isolation {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, storageErr("begin facts", err)
	}
	ins, err := tx.PrepareContext(ctx, s.q.insertFact)
	if err != nil {
		_ = tx.Rollback()
		return nil, storageErr("prepare facts insert", err)
	}
	return &FactWriter{
		s:    s,
		ctx:  ctx,
		tx:   tx,
		ins:  ins,
		sel:  tx.StmtContext(ctx, s.selID),
		args: make([]any, s.n+1),
	}, nil
}

func (w *FactWriter) id(text string) (int64, error) {
	id, ok, err := w.s.lookupID(w.ctx, w.sel, text)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: token %q is missing from the dictionary", api.ErrStorage, text)
	}
	return id, nil
}

// Insert writes one fact row.
func (w *FactWriter) Insert(c chain.Context, tok string) error {
	if len(c) != w.s.n {
		return fmt.Errorf("%w: context has %d tokens, chain order is %d", api.ErrConfig, len(c), w.s.n)
	}
	id, err := w.id(tok)
	if err != nil {
		return err
	}
	w.args[0] = id
	for i, text := range c {
		if id, err = w.id(text); err != nil {
			return err
		}
		w.args[i+1] = id
	}
	if _, err := w.ins.ExecContext(w.ctx, w.args...); err != nil {
		return storageErr("insert fact", err)
	}
	w.rows++
	return nil
}

// Rows is the number of facts written so far.
func (w *FactWriter) Rows() int64 { return w.rows }

func (w *FactWriter) Commit() error {
	if w.done {
		return nil
	}
	w.close()
	if err := w.tx.Commit(); err != nil {
		return storageErr("commit facts", err)
	}
	return nil
}

func (w *FactWriter) Rollback() error {
	if w.done {
		return nil
	}
	w.close()
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return storageErr("rollback facts", err)
	}
	return nil
}

func (w *FactWriter) close() {
	_ = w.ins.Close()
	_ = w.sel.Close()
	w.done = true
}

var _ chain.Sink = (*FactWriter)(nil)
