package chain

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/agentic-research/markov/api"
)

// Memory is the in-memory chain: a multimap from context to the multiset of
// successor tokens. Duplicated successors are the sampling weights and are
// never collapsed.
//
// A Memory is owned by one goroutine while it is built (one per input file)
// and is read-only once merged, so it carries no lock. Use Accumulator to
// absorb partials from several goroutines.
type Memory struct {
	n       int
	entries map[string]*entry
	// keys keeps insertion order so iteration, persistence and random starts
	// do not depend on map order.
	keys        []string
	transitions int64
}

type entry struct {
	ctx  Context
	next []string
}

// NewMemory returns an empty chain of order n.
func NewMemory(n int) *Memory {
	return &Memory{n: n, entries: make(map[string]*entry)}
}

// Order returns N.
func (m *Memory) Order() int { return m.n }

// Len is the number of distinct contexts.
func (m *Memory) Len() int { return len(m.keys) }

// Transitions is the number of inserted transitions, duplicates included.
func (m *Memory) Transitions() int64 { return m.transitions }

// Insert appends the transition (c, tok).
func (m *Memory) Insert(c Context, tok string) error {
	if len(c) != m.n {
		return fmt.Errorf("%w: context of width %d in a chain of order %d", api.ErrConfig, len(c), m.n)
	}
	m.add(c.key(), c, tok)
	return nil
}

func (m *Memory) add(k string, c Context, toks ...string) {
	e, ok := m.entries[k]
	if !ok {
		e = &entry{ctx: c.Clone()}
		m.entries[k] = e
		m.keys = append(m.keys, k)
	}
	e.next = append(e.next, toks...)
	m.transitions += int64(len(toks))
}

// Candidates returns a copy of the successor multiset of c.
func (m *Memory) Candidates(_ context.Context, c Context) ([]string, error) {
	e, ok := m.entries[c.key()]
	if !ok {
		return nil, nil
	}
	out := make([]string, len(e.next))
	copy(out, e.next)
	return out, nil
}

// Sample picks a successor of c uniformly over the multiset. A single
// candidate is returned without touching rng.
func (m *Memory) Sample(_ context.Context, c Context, rng *rand.Rand) (string, bool, error) {
	e, ok := m.entries[c.key()]
	if !ok || len(e.next) == 0 {
		return "", false, nil
	}
	if len(e.next) == 1 {
		return e.next[0], true, nil
	}
	return e.next[intN(rng, len(e.next))], true, nil
}

// RandomContext picks a transition uniformly and returns its context.
func (m *Memory) RandomContext(_ context.Context, rng *rand.Rand) (Context, bool, error) {
	if m.transitions == 0 {
		return nil, false, nil
	}
	i := int64N(rng, m.transitions)
	for _, k := range m.keys {
		e := m.entries[k]
		if i < int64(len(e.next)) {
			return e.ctx.Clone(), true, nil
		}
		i -= int64(len(e.next))
	}
	return nil, false, fmt.Errorf("transition count %d out of sync with entries", m.transitions)
}

// Stats reports sizes; Vocabulary counts distinct tokens seen in contexts or
// as successors.
func (m *Memory) Stats(context.Context) (Stats, error) {
	vocab := make(map[string]struct{})
	for _, k := range m.keys {
		e := m.entries[k]
		for _, t := range e.ctx {
			vocab[t] = struct{}{}
		}
		for _, t := range e.next {
			vocab[t] = struct{}{}
		}
	}
	return Stats{
		Order:       m.n,
		Contexts:    int64(len(m.keys)),
		Transitions: m.transitions,
		Vocabulary:  int64(len(vocab)),
	}, nil
}

// Each calls fn for every context in insertion order until fn returns false.
// The slices belong to the chain and must not be modified.
func (m *Memory) Each(fn func(c Context, next []string) bool) {
	for _, k := range m.keys {
		e := m.entries[k]
		if !fn(e.ctx, e.next) {
			return
		}
	}
}

// Merge adds every transition of other to m (multiset union) and returns m.
// other is left untouched.
func (m *Memory) Merge(other *Memory) (*Memory, error) {
	if other == nil {
		return m, nil
	}
	if other.n != m.n {
		return nil, fmt.Errorf("%w: cannot merge chain of order %d into order %d", api.ErrConfig, other.n, m.n)
	}
	keys := other.keys
	if other == m {
		keys = append([]string(nil), m.keys...)
	}
	for _, k := range keys {
		e := other.entries[k]
		m.add(k, e.ctx, append([]string(nil), e.next...)...)
	}
	return m, nil
}

// Clone returns a deep copy.
func (m *Memory) Clone() *Memory {
	out := NewMemory(m.n)
	_, _ = out.Merge(m)
	return out
}

func intN(rng *rand.Rand, n int) int {
	if rng == nil {
		return rand.IntN(n)
	}
	return rng.IntN(n)
}

func int64N(rng *rand.Rand, n int64) int64 {
	if rng == nil {
		return rand.Int64N(n)
	}
	return rng.Int64N(n)
}

var (
	_ Model = (*Memory)(nil)
	_ Sink  = (*Memory)(nil)
)
