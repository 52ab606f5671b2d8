package backend

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/markov/api"
	"github.com/agentic-research/markov/internal/chain"
	"github.com/agentic-research/markov/internal/logger"
	"github.com/agentic-research/markov/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInputs(t *testing.T, texts ...string) []string {
	t.Helper()
	dir := t.TempDir()
	files := make([]string, len(texts))
	for i, text := range texts {
		files[i] = filepath.Join(dir, "in"+string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(files[i], []byte(text), 0o644))
	}
	return files
}

func baseOptions(n int) api.Options {
	opts := api.Options{Iter: `\w+`, PrefixMiddle: " ", N: n}
	opts.SetDefaults()
	return opts
}

// run drives b the way the engine does, sequentially.
func run(t *testing.T, b Backend, files []string) chain.Model {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.TrainBegin(ctx, files))
	parts := make([]chain.Model, len(files))
	for i, f := range files {
		var err error
		parts[i], err = b.Train(ctx, f)
		require.NoError(t, err)
	}
	m, err := b.Merge(ctx, parts)
	require.NoError(t, err)
	return m
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"memory", "mysql", "postgres", "sqlite"}, Names())
	assert.Panics(t, func() { Register("memory", newMemory) })

	_, err := New(context.Background(), "redis", baseOptions(1), nil)
	assert.ErrorIs(t, err, api.ErrConfig)
}

func TestNew_InvalidOptions(t *testing.T) {
	ctx := context.Background()
	cases := map[string]api.Options{
		"no iter":     {N: 1},
		"zero order":  {Iter: `\w+`},
		"bad pattern": {Iter: `(`, N: 1},
		"bad sep":     {Iter: `\w+`, Separator: `[`, N: 1},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(ctx, "memory", opts, nil)
			assert.ErrorIs(t, err, api.ErrConfig)
		})
	}
}

func TestMemory_TrainMergeOut(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, "memory", baseOptions(1), logger.Nop())
	require.NoError(t, err)
	defer b.Close()

	m := run(t, b, writeInputs(t, "a b", "b c"))
	got, err := m.Candidates(ctx, chain.Context{"b"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{token.Terminal, "c"}, got)
	got, err = m.Candidates(ctx, chain.EmptyContext(1))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, got)
}

func TestMemory_Deterministic(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, "memory", baseOptions(2), nil)
	require.NoError(t, err)

	m := run(t, b, writeInputs(t, "the quick brown fox"))
	var out bytes.Buffer
	require.NoError(t, b.Out(ctx, m, &out))
	assert.Equal(t, "the quick brown fox ", out.String())
}

func TestMemory_SaveLoad(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, "memory", baseOptions(1), nil)
	require.NoError(t, err)

	m := run(t, b, writeInputs(t, "x y"))
	cache := filepath.Join(t.TempDir(), "chain.bin")
	require.NoError(t, b.Save(ctx, cache, m))

	loaded, err := b.Load(ctx, cache)
	require.NoError(t, err)
	got, err := loaded.Candidates(ctx, chain.Context{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, got)

	other, err := New(ctx, "memory", baseOptions(2), nil)
	require.NoError(t, err)
	_, err = other.Load(ctx, cache)
	assert.ErrorIs(t, err, api.ErrConfig)

	_, err = b.Load(ctx, filepath.Join(t.TempDir(), "none.bin"))
	assert.ErrorIs(t, err, api.ErrInput)
}

func TestMemory_MergeEmpty(t *testing.T) {
	b, err := New(context.Background(), "memory", baseOptions(3), nil)
	require.NoError(t, err)
	m, err := b.Merge(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Order())
}

func TestMemory_MissingInput(t *testing.T) {
	b, err := New(context.Background(), "memory", baseOptions(1), nil)
	require.NoError(t, err)
	_, err = b.Train(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, api.ErrInput)
}

func sqliteOptions(t *testing.T, n int) api.Options {
	opts := baseOptions(n)
	opts.Storage.Endpoint = filepath.Join(t.TempDir(), "chain.db")
	opts.Storage.Index = true
	return opts
}

func TestRelational_SQLite(t *testing.T) {
	ctx := context.Background()
	opts := sqliteOptions(t, 1)
	b, err := New(ctx, "sqlite", opts, logger.Nop())
	require.NoError(t, err)
	defer b.Close()

	m := run(t, b, writeInputs(t, "a b", "b c"))
	got, err := m.Candidates(ctx, chain.Context{"b"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{token.Terminal, "c"}, got)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Transitions)
	assert.Equal(t, int64(4), stats.Vocabulary)

	require.NoError(t, b.Save(ctx, "ignored", m))
	loaded, err := b.Load(ctx, "ignored")
	require.NoError(t, err)
	assert.Same(t, m, loaded)
}

func TestRelational_SQLiteGenerate(t *testing.T) {
	ctx := context.Background()
	opts := sqliteOptions(t, 2)
	opts.PrefixMiddle = "_"
	b, err := New(ctx, "sqlite", opts, nil)
	require.NoError(t, err)
	defer b.Close()

	m := run(t, b, writeInputs(t, "one two three"))
	var out bytes.Buffer
	require.NoError(t, b.Out(ctx, m, &out))
	assert.Equal(t, "one_two_three_", out.String())
}

func TestRelational_LoadWithoutChain(t *testing.T) {
	b, err := New(context.Background(), "sqlite", sqliteOptions(t, 1), nil)
	require.NoError(t, err)
	defer b.Close()
	_, err = b.Load(context.Background(), "")
	assert.ErrorIs(t, err, api.ErrInput)
}

func TestCacheExists(t *testing.T) {
	ctx := context.Background()
	mem, err := New(ctx, "memory", baseOptions(1), nil)
	require.NoError(t, err)
	assert.True(t, NeedsCacheFile(mem))

	cache := filepath.Join(t.TempDir(), "chain.bin")
	ok, err := CacheExists(ctx, mem, cache)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mem.Save(ctx, cache, run(t, mem, writeInputs(t, "x"))))
	ok, err = CacheExists(ctx, mem, cache)
	require.NoError(t, err)
	assert.True(t, ok)

	// The database decides, whatever the id says.
	opts := sqliteOptions(t, 1)
	db, err := New(ctx, "sqlite", opts, nil)
	require.NoError(t, err)
	assert.False(t, NeedsCacheFile(db))
	ok, err = CacheExists(ctx, db, cache)
	require.NoError(t, err)
	assert.False(t, ok)
	run(t, db, writeInputs(t, "y"))
	require.NoError(t, db.Close())

	db, err = New(ctx, "sqlite", opts, nil)
	require.NoError(t, err)
	defer db.Close()
	ok, err = CacheExists(ctx, db, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRelational_OrderMismatch(t *testing.T) {
	ctx := context.Background()
	opts := sqliteOptions(t, 3)
	b, err := New(ctx, "sqlite", opts, nil)
	require.NoError(t, err)
	run(t, b, writeInputs(t, "a b c d e"))
	require.NoError(t, b.Close())

	opts.N = 2
	_, err = New(ctx, "sqlite", opts, nil)
	assert.ErrorIs(t, err, api.ErrConfig)
}

func TestRelational_NeedsEndpoint(t *testing.T) {
	_, err := New(context.Background(), "sqlite", baseOptions(1), nil)
	assert.ErrorIs(t, err, api.ErrConfig)
}
