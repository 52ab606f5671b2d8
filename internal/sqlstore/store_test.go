package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentic-research/markov/api"
	"github.com/agentic-research/markov/internal/chain"
	"github.com/agentic-research/markov/internal/logger"
	"github.com/agentic-research/markov/internal/token"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engines lists the dialects to run against. SQLite always runs on a temp
// file; networked engines run when their DSN is exported.
func engines(t *testing.T) map[string]api.Storage {
	t.Helper()
	out := map[string]api.Storage{
		"sqlite": {Endpoint: filepath.Join(t.TempDir(), "chain.db")},
	}
	if dsn := os.Getenv("MARKOV_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = api.Storage{Endpoint: dsn}
	}
	if dsn := os.Getenv("MARKOV_TEST_MYSQL_DSN"); dsn != "" {
		out["mysql"] = api.Storage{Endpoint: dsn}
	}
	return out
}

func openStore(t *testing.T, dialect string, st api.Storage, n int) *Store {
	t.Helper()
	ctx := context.Background()
	suffix := strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	st.Table = "facts_" + suffix
	st.DictTable = "dict_" + suffix

	s, err := Open(ctx, Config{Dialect: dialect, Storage: st, Order: n}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))
	t.Cleanup(func() {
		if dialect != "sqlite" {
			_, _ = s.db.ExecContext(ctx, "DROP TABLE "+s.table)
			_, _ = s.db.ExecContext(ctx, "DROP TABLE "+s.dict)
		}
		_ = s.Close()
	})
	return s
}

// trainText runs both passes over text the way the relational backend does.
func trainText(t *testing.T, s *Store, text string) {
	t.Helper()
	ctx := context.Background()
	tk, err := token.New(token.Config{Capture: `\w+`})
	require.NoError(t, err)

	toks, err := tk.Tokens(text)
	require.NoError(t, err)
	_, err = s.Intern(ctx, toks...)
	require.NoError(t, err)

	w, err := s.Writer(ctx)
	require.NoError(t, err)
	_, err = chain.Train(tk, s.Order(), text, w)
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.NoError(t, s.BuildIndex(ctx))
}

func TestStore_WordScenario(t *testing.T) {
	ctx := context.Background()
	for name, st := range engines(t) {
		t.Run(name, func(t *testing.T) {
			s := openStore(t, name, st, 1)
			trainText(t, s, "a b a c")

			cases := map[string][]string{
				token.Terminal: {"a"},
				"a":            {"b", "c"},
				"b":            {"a"},
				"c":            {token.Terminal},
			}
			for prev, want := range cases {
				got, err := s.Candidates(ctx, chain.Context{prev})
				require.NoError(t, err)
				assert.ElementsMatch(t, want, got, "successors of %q", prev)
			}

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, chain.Stats{Order: 1, Contexts: 4, Transitions: 5, Vocabulary: 4}, stats)
		})
	}
}

func TestStore_Sample(t *testing.T) {
	ctx := context.Background()
	for name, st := range engines(t) {
		t.Run(name, func(t *testing.T) {
			s := openStore(t, name, st, 2)
			trainText(t, s, "x y z")

			// Single candidates never depend on randomness.
			for i := 0; i < 5; i++ {
				tok, ok, err := s.Sample(ctx, chain.EmptyContext(2), nil)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "x", tok)
			}

			tok, ok, err := s.Sample(ctx, chain.Context{"y", "z"}, nil)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, token.Terminal, tok)

			// Unknown token and unknown combination are both misses.
			_, ok, err = s.Sample(ctx, chain.Context{"nope", "z"}, nil)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = s.Sample(ctx, chain.Context{"z", "x"}, nil)
			require.NoError(t, err)
			assert.False(t, ok)

			_, _, err = s.Sample(ctx, chain.Context{"x"}, nil)
			assert.ErrorIs(t, err, api.ErrConfig)
		})
	}
}

func TestStore_Generate(t *testing.T) {
	ctx := context.Background()
	for name, st := range engines(t) {
		t.Run(name, func(t *testing.T) {
			s := openStore(t, name, st, 1)
			trainText(t, s, "one two three")

			var b strings.Builder
			_, err := chain.NewGenerator(s, chain.GenOptions{Delimiter: " "}).Generate(ctx, &b)
			require.NoError(t, err)
			assert.Equal(t, "one two three ", b.String())
		})
	}
}

func TestStore_DictionaryIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, st := range engines(t) {
		t.Run(name, func(t *testing.T) {
			s := openStore(t, name, st, 1)

			first, err := s.Intern(ctx, "alpha", "beta", "alpha")
			require.NoError(t, err)
			assert.Equal(t, first[0], first[2])
			assert.NotEqual(t, first[0], first[1])

			// Fresh caches must read the same ids back from the table.
			s.forget()
			again, err := s.Intern(ctx, "beta", "alpha", token.Terminal)
			require.NoError(t, err)
			assert.Equal(t, []int64{first[1], first[0], 0}, again)

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), stats.Vocabulary)
		})
	}
}

func TestStore_CaseSensitiveDictionary(t *testing.T) {
	ctx := context.Background()
	for name, st := range engines(t) {
		t.Run(name, func(t *testing.T) {
			s := openStore(t, name, st, 1)
			ids, err := s.Intern(ctx, "Word", "word", "word ")
			require.NoError(t, err)
			assert.Len(t, map[int64]bool{ids[0]: true, ids[1]: true, ids[2]: true}, 3)
		})
	}
}

func TestStore_RollbackDiscardsIDs(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "sqlite", engines(t)["sqlite"], 1)

	w, err := s.BeginDictionary(ctx)
	require.NoError(t, err)
	_, err = w.Intern("ghost")
	require.NoError(t, err)
	require.NoError(t, w.Rollback())

	_, ok, err := s.Sample(ctx, chain.Context{"ghost"}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := s.Intern(ctx, "real")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestStore_MissingTokenIsStorageError(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "sqlite", engines(t)["sqlite"], 1)

	w, err := s.Writer(ctx)
	require.NoError(t, err)
	defer func() { _ = w.Rollback() }()

	err = w.Insert(chain.EmptyContext(1), "unseen")
	assert.ErrorIs(t, err, api.ErrStorage)
	assert.ErrorIs(t, w.Insert(chain.Context{"a", "b"}, token.Terminal), api.ErrConfig)
}

func TestStore_RandomContext(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "sqlite", engines(t)["sqlite"], 2)

	_, ok, err := s.RandomContext(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	trainText(t, s, "p q r")
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, ok, err := s.RandomContext(ctx, nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, c, 2)
		seen[c.String()] = true
	}
	for k := range seen {
		assert.Contains(t, []string{
			chain.EmptyContext(2).String(),
			chain.Context{token.Terminal, "p"}.String(),
			chain.Context{"p", "q"}.String(),
			chain.Context{"q", "r"}.String(),
		}, k)
	}
}

func indexCount(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", s.index).Scan(&n))
	return n
}

func TestStore_IndexAfterLoad(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "sqlite", engines(t)["sqlite"], 2)

	// Facts are written without the context index.
	assert.Equal(t, 0, indexCount(t, s))
	w, err := s.Writer(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Insert(chain.EmptyContext(2), token.Terminal))
	require.NoError(t, w.Commit())
	assert.Equal(t, 0, indexCount(t, s))

	require.NoError(t, s.BuildIndex(ctx))
	require.NoError(t, s.BuildIndex(ctx))
	assert.Equal(t, 1, indexCount(t, s))

	// Without deferred indexing an existing index is left alone.
	require.NoError(t, s.EnsureSchema(ctx))
	assert.Equal(t, 1, indexCount(t, s))
}

func TestStore_DeferredIndex(t *testing.T) {
	ctx := context.Background()
	st := engines(t)["sqlite"]
	st.Index = true
	s := openStore(t, "sqlite", st, 2)

	assert.Equal(t, 0, indexCount(t, s))
	trainText(t, s, "a b")
	assert.Equal(t, 1, indexCount(t, s))

	// Reopening with deferred indexing drops it again for the next bulk load.
	require.NoError(t, s.EnsureSchema(ctx))
	assert.Equal(t, 0, indexCount(t, s))
}

func TestStore_ReopenKeepsChain(t *testing.T) {
	ctx := context.Background()
	st := engines(t)["sqlite"]
	st.Table, st.DictTable = "facts", "dict"

	s, err := Open(ctx, Config{Dialect: "sqlite", Storage: st, Order: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))
	trainText(t, s, "hello world")
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Dialect: "sqlite", Storage: st, Order: 1}, nil)
	require.NoError(t, err)
	defer s.Close()
	tok, ok, err := s.Sample(ctx, chain.Context{"hello"}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "world", tok)
}

func TestStore_ReopenWithOtherOrder(t *testing.T) {
	ctx := context.Background()
	st := engines(t)["sqlite"]
	st.Table, st.DictTable = "facts", "dict"

	s, err := Open(ctx, Config{Dialect: "sqlite", Storage: st, Order: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))
	trainText(t, s, "a b c d e")
	require.NoError(t, s.Close())

	for _, n := range []int{2, 4} {
		_, err = Open(ctx, Config{Dialect: "sqlite", Storage: st, Order: n}, nil)
		assert.ErrorIs(t, err, api.ErrConfig, "N=%d", n)
	}

	s, err = Open(ctx, Config{Dialect: "sqlite", Storage: st, Order: 3}, nil)
	require.NoError(t, err)
	defer s.Close()
	tok, ok, err := s.Sample(ctx, chain.Context{"a", "b", "c"}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "d", tok)
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "x.db")
	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{"unknown dialect", Config{Dialect: "oracle", Storage: api.Storage{Endpoint: file}, Order: 1}, api.ErrConfig},
		{"zero order", Config{Dialect: "sqlite", Storage: api.Storage{Endpoint: file}, Order: 0}, api.ErrConfig},
		{"no endpoint", Config{Dialect: "sqlite", Order: 1}, api.ErrConfig},
		{"bad table", Config{Dialect: "sqlite", Storage: api.Storage{Endpoint: file, Table: "x; DROP"}, Order: 1}, api.ErrConfig},
		{"same tables", Config{Dialect: "sqlite", Storage: api.Storage{Endpoint: file, Table: "t", DictTable: "t"}, Order: 1}, api.ErrConfig},
		{"unreachable", Config{Dialect: "sqlite", Storage: api.Storage{Endpoint: filepath.Join(file, "missing", "x.db")}, Order: 1}, api.ErrStorage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(ctx, tc.cfg, nil)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidIdent(t *testing.T) {
	for _, ok := range []string{"markov", "_t", "Dict_2"} {
		assert.True(t, validIdent(ok), ok)
	}
	for _, bad := range []string{"", "2x", "a-b", "a b", "t;", strings.Repeat("a", 64)} {
		assert.False(t, validIdent(bad), bad)
	}
}
