// Package sqlstore keeps a Markov chain in a relational database. Tokens are
// interned into a dictionary table and every transition is one row of ids in
// the facts table, so the database itself is the chain.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/agentic-research/markov/api"
	"github.com/agentic-research/markov/internal/chain"
	"github.com/agentic-research/markov/internal/logger"
	"github.com/agentic-research/markov/internal/token"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultTable     = api.DefaultTable
	DefaultDictTable = api.DefaultDictTable
	// DefaultCacheSize bounds each dictionary cache.
	DefaultCacheSize = 1 << 16
)

// Config selects the dialect and schema for Open.
type Config struct {
	Dialect string
	Storage api.Storage
	// Order is N, the number of context columns.
	Order     int
	CacheSize int
}

// Store is a chain held in a database. It implements chain.Model; training
// goes through a DictWriter (pass one) and per-file FactWriters (pass two).
type Store struct {
	db    *sql.DB
	d     *Dialect
	n     int
	table string
	dict  string
	index string

	deferIndex    bool
	readCommitted bool

	q       queries
	selID   *sql.Stmt
	selText *sql.Stmt

	// dictMu serializes dictionary id assignment.
	dictMu sync.Mutex
	ids    *lru.Cache[string, int64]
	texts  *lru.Cache[int64, string]

	log *logger.Logger
}

type queries struct {
	cols          string
	maxID         string
	selectID      string
	selectText    string
	insertDict    string
	insertFact    string
	sample        string
	candidates    string
	randomContext string
}

// Open connects to the configured database. The schema is not touched until
// EnsureSchema.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	if cfg.Order < 1 {
		return nil, fmt.Errorf("%w: N must be at least 1, got %d", api.ErrConfig, cfg.Order)
	}
	if log == nil {
		log = logger.Nop()
	}
	d, err := LookupDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	table := orDefault(cfg.Storage.Table, DefaultTable)
	dict := orDefault(cfg.Storage.DictTable, DefaultDictTable)
	for _, name := range []string{table, dict} {
		if !validIdent(name) {
			return nil, fmt.Errorf("%w: invalid table name %q", api.ErrConfig, name)
		}
	}
	if table == dict {
		return nil, fmt.Errorf("%w: table and dict_table must differ", api.ErrConfig)
	}
	dsn, err := d.dsn(cfg.Storage)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, storageErr("open "+d.Name, err)
	}
	if d.maxConns > 0 {
		db.SetMaxOpenConns(d.maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storageErr("connect "+d.Name, err)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	ids, _ := lru.New[string, int64](size)
	texts, _ := lru.New[int64, string](size)

	s := &Store{
		db:            db,
		d:             d,
		n:             cfg.Order,
		table:         table,
		dict:          dict,
		index:         table + "_ctx_idx",
		deferIndex:    cfg.Storage.Index,
		readCommitted: cfg.Storage.Transactions,
		ids:           ids,
		texts:         texts,
		log:           log,
	}
	s.q = s.buildQueries()
	if err := s.checkOrder(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if s.selID, err = db.PrepareContext(ctx, s.q.selectID); err == nil {
		s.selText, err = db.PrepareContext(ctx, s.q.selectText)
	}
	if err != nil {
		// The dictionary table may not exist yet; EnsureSchema prepares
		// the statements again.
		if s.selID != nil {
			_ = s.selID.Close()
		}
		s.selID, s.selText = nil, nil
	}
	log.Debug("connected", "dialect", d.Name, "endpoint", cfg.Storage.Endpoint, "table", table, "dict_table", dict)
	return s, nil
}

// checkOrder rejects a facts table created for another N. A missing table
// passes.
func (s *Store) checkOrder(ctx context.Context) error {
	var cols int
	if err := s.db.QueryRowContext(ctx, s.d.columns, s.table).Scan(&cols); err != nil {
		return storageErr("inspect "+s.table, err)
	}
	if cols > 0 && cols-1 != s.n {
		return fmt.Errorf("%w: table %s holds an order-%d chain, N is %d", api.ErrConfig, s.table, cols-1, s.n)
	}
	return nil
}

func (s *Store) buildQueries() queries {
	d := s.d
	cols := make([]string, s.n)
	where := make([]string, s.n)
	for i := range cols {
		cols[i] = "id_" + strconv.Itoa(i+1)
		where[i] = cols[i] + " = " + d.param(i+1)
	}
	colList := strings.Join(cols, ", ")
	cond := strings.Join(where, " AND ")
	return queries{
		cols:       colList,
		maxID:      fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", s.dict),
		selectID:   fmt.Sprintf("SELECT id FROM %s WHERE str = %s", s.dict, d.param(1)),
		selectText: fmt.Sprintf("SELECT str FROM %s WHERE id = %s", s.dict, d.param(1)),
		insertDict: d.insertIgnore(s.dict, "id, str", strings.Join(d.placeholders(1, 2), ", ")),
		insertFact: fmt.Sprintf("INSERT INTO %s (result_id, %s) VALUES (%s)",
			s.table, colList, strings.Join(d.placeholders(1, s.n+1), ", ")),
		sample: fmt.Sprintf("SELECT result_id FROM %s WHERE %s ORDER BY %s LIMIT 1",
			s.table, cond, d.Random),
		candidates: fmt.Sprintf("SELECT result_id FROM %s WHERE %s", s.table, cond),
		randomContext: fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT 1",
			colList, s.table, d.Random),
	}
}

// EnsureSchema creates the dictionary and facts tables and seeds the terminal
// token as id 0. It never creates the context index; BuildIndex does once
// training is over. With deferred indexing an index left by an earlier run is
// dropped so bulk loading skips its maintenance.
func (s *Store) EnsureSchema(ctx context.Context) error {
	dictDDL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id %s PRIMARY KEY, str %s NOT NULL UNIQUE)%s",
		s.dict, s.d.idType, s.d.textType, s.d.tableSuffix)

	defs := []string{"result_id BIGINT NOT NULL"}
	fkCols := append([]string{"result_id"}, strings.Split(s.q.cols, ", ")...)
	for _, col := range fkCols[1:] {
		defs = append(defs, col+" BIGINT NOT NULL")
	}
	for _, col := range fkCols {
		if s.d.fkIndexes {
			defs = append(defs, fmt.Sprintf("KEY %s_%s_fk (%s)", s.table, col, col))
		}
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (id)", col, s.dict))
	}
	factsDDL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)%s",
		s.table, strings.Join(defs, ", "), s.d.tableSuffix)

	for _, stmt := range []string{dictDDL, factsDDL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("create schema", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, s.q.insertDict, int64(0), token.Terminal); err != nil {
		return storageErr("seed dictionary", err)
	}
	if s.selID == nil {
		var err error
		if s.selID, err = s.db.PrepareContext(ctx, s.q.selectID); err != nil {
			return storageErr("prepare lookup", err)
		}
		if s.selText, err = s.db.PrepareContext(ctx, s.q.selectText); err != nil {
			return storageErr("prepare lookup", err)
		}
	}
	if s.deferIndex {
		return s.dropIndex(ctx)
	}
	return nil
}

// BuildIndex creates the composite context index. It is idempotent.
func (s *Store) BuildIndex(ctx context.Context) error {
	if !s.d.ifExists {
		exists, err := s.indexExists(ctx)
		if err != nil || exists {
			return err
		}
	}
	stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", s.index, s.table, s.q.cols)
	if s.d.ifExists {
		stmt = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", s.index, s.table, s.q.cols)
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return storageErr("create index", err)
	}
	s.log.Debug("context index ready", "index", s.index)
	return nil
}

func (s *Store) dropIndex(ctx context.Context) error {
	stmt := "DROP INDEX IF EXISTS " + s.index
	if !s.d.ifExists {
		exists, err := s.indexExists(ctx)
		if err != nil || !exists {
			return err
		}
		stmt = fmt.Sprintf("DROP INDEX %s ON %s", s.index, s.table)
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return storageErr("drop index", err)
	}
	s.log.Debug("context index dropped for bulk load", "index", s.index)
	return nil
}

// indexExists is used by engines without IF [NOT] EXISTS on indexes.
func (s *Store) indexExists(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`,
		s.table, s.index).Scan(&count)
	if err != nil {
		return false, storageErr("inspect index", err)
	}
	return count > 0, nil
}

// Ready reports whether the tables exist, so the store can be read without
// EnsureSchema.
func (s *Store) Ready() bool { return s.selID != nil }

// Order is N.
func (s *Store) Order() int { return s.n }

// Dialect names the engine behind the store.
func (s *Store) Dialect() string { return s.d.Name }

// Close releases the connection pool.
func (s *Store) Close() error {
	for _, st := range []*sql.Stmt{s.selID, s.selText} {
		if st != nil {
			_ = st.Close()
		}
	}
	return s.db.Close()
}

func (s *Store) remember(text string, id int64) {
	s.ids.Add(text, id)
	s.texts.Add(id, text)
}

// lookupID maps text to its dictionary id. ok is false when text was never
// interned.
func (s *Store) lookupID(ctx context.Context, stmt *sql.Stmt, text string) (int64, bool, error) {
	if id, ok := s.ids.Get(text); ok {
		return id, true, nil
	}
	var id int64
	err := stmt.QueryRowContext(ctx, text).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr("lookup token", err)
	}
	s.remember(text, id)
	return id, true, nil
}

func (s *Store) lookupText(ctx context.Context, id int64) (string, error) {
	if text, ok := s.texts.Get(id); ok {
		return text, nil
	}
	if s.selText == nil {
		return "", fmt.Errorf("%w: schema of %s is not initialized", api.ErrStorage, s.dict)
	}
	var text string
	err := s.selText.QueryRowContext(ctx, id).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: dangling dictionary id %d", api.ErrStorage, id)
	}
	if err != nil {
		return "", storageErr("lookup id", err)
	}
	s.remember(text, id)
	return text, nil
}

// contextArgs maps every context token to its id. ok is false when some
// token is not in the dictionary, which means the context was never trained.
func (s *Store) contextArgs(ctx context.Context, c chain.Context) ([]any, bool, error) {
	if len(c) != s.n {
		return nil, false, fmt.Errorf("%w: context has %d tokens, chain order is %d", api.ErrConfig, len(c), s.n)
	}
	if s.selID == nil {
		return nil, false, fmt.Errorf("%w: schema of %s is not initialized", api.ErrStorage, s.table)
	}
	args := make([]any, len(c))
	for i, text := range c {
		id, ok, err := s.lookupID(ctx, s.selID, text)
		if err != nil || !ok {
			return nil, false, err
		}
		args[i] = id
	}
	return args, true, nil
}

// Sample draws one successor of c inside the database. The engine's random
// ordering replaces rng.
func (s *Store) Sample(ctx context.Context, c chain.Context, _ *rand.Rand) (string, bool, error) {
	args, ok, err := s.contextArgs(ctx, c)
	if err != nil || !ok {
		return "", false, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, s.q.sample, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("sample", err)
	}
	text, err := s.lookupText(ctx, id)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// Candidates returns every successor row of c.
func (s *Store) Candidates(ctx context.Context, c chain.Context) ([]string, error) {
	args, ok, err := s.contextArgs(ctx, c)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q.candidates, args...)
	if err != nil {
		return nil, storageErr("candidates", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, storageErr("candidates", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, storageErr("candidates", err)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("candidates", err)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		text, err := s.lookupText(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}

// RandomContext returns the context of one random fact row.
func (s *Store) RandomContext(ctx context.Context, _ *rand.Rand) (chain.Context, bool, error) {
	ids := make([]int64, s.n)
	dest := make([]any, s.n)
	for i := range ids {
		dest[i] = &ids[i]
	}
	err := s.db.QueryRowContext(ctx, s.q.randomContext).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("random context", err)
	}
	c := make(chain.Context, s.n)
	for i, id := range ids {
		if c[i], err = s.lookupText(ctx, id); err != nil {
			return nil, false, err
		}
	}
	return c, true, nil
}

// Stats counts rows. Vocabulary includes the terminal token.
func (s *Store) Stats(ctx context.Context) (chain.Stats, error) {
	st := chain.Stats{Order: s.n}
	counts := []struct {
		dst   *int64
		query string
	}{
		{&st.Transitions, "SELECT COUNT(*) FROM " + s.table},
		{&st.Contexts, fmt.Sprintf("SELECT COUNT(*) FROM (SELECT DISTINCT %s FROM %s) AS ctxs", s.q.cols, s.table)},
		{&st.Vocabulary, "SELECT COUNT(*) FROM " + s.dict},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return st, storageErr("stats", err)
		}
	}
	return st, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", api.ErrStorage, op, err)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// validIdent accepts plain SQL identifiers; table names are interpolated
// into statements.
func validIdent(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

var _ chain.Model = (*Store)(nil)
