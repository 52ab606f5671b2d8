// Package chain holds the order-N Markov chain core: contexts, the builder that
// turns a token stream into transitions, the in-memory store, merging,
// persistence and generation.
package chain

import (
	"context"
	"encoding/binary"
	"math/rand/v2"
	"strings"

	"github.com/agentic-research/markov/internal/token"
)

// Context is the window of the N most recent tokens, oldest first.
// Its length never changes after construction.
type Context []string

// EmptyContext returns a context of n terminal tokens, the state at the start
// of every block.
func EmptyContext(n int) Context {
	c := make(Context, n)
	for i := range c {
		c[i] = token.Terminal
	}
	return c
}

// Shift drops the oldest token and appends tok, in place.
func (c Context) Shift(tok string) {
	if len(c) == 0 {
		return
	}
	copy(c, c[1:])
	c[len(c)-1] = tok
}

// Clone returns an independent copy.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	copy(out, c)
	return out
}

// key encodes every token length-prefixed, so distinct contexts never collide.
func (c Context) key() string {
	n := 0
	for _, t := range c {
		n += len(t) + binary.MaxVarintLen64
	}
	buf := make([]byte, 0, n)
	for _, t := range c {
		buf = binary.AppendUvarint(buf, uint64(len(t)))
		buf = append(buf, t...)
	}
	return string(buf)
}

// String renders the context for logs.
func (c Context) String() string {
	quoted := make([]string, len(c))
	for i, t := range c {
		switch t {
		case token.Terminal:
			quoted[i] = "∅"
		case token.LineBreak:
			quoted[i] = `\n`
		default:
			quoted[i] = t
		}
	}
	return "(" + strings.Join(quoted, " ") + ")"
}

// Sink receives transitions from a Builder. The context is only valid for the
// duration of the call; implementations that keep it must copy it.
type Sink interface {
	Insert(ctx Context, tok string) error
}

// Stats summarizes a trained chain.
type Stats struct {
	Order       int
	Contexts    int64
	Transitions int64
	// Vocabulary is the number of distinct tokens (dictionary rows for
	// relational stores, including the terminal token).
	Vocabulary int64
}

// Model is the read side of a completed chain, implemented by *Memory and the
// relational store.
type Model interface {
	// Order is N, the context width.
	Order() int
	// Candidates returns the successor multiset of c, duplicates included.
	Candidates(ctx context.Context, c Context) ([]string, error)
	// Sample picks one successor of c. ok is false when c was never trained.
	Sample(ctx context.Context, c Context, rng *rand.Rand) (tok string, ok bool, err error)
	// RandomContext returns the context of a uniformly chosen transition.
	// ok is false when the chain is empty.
	RandomContext(ctx context.Context, rng *rand.Rand) (Context, bool, error)
	Stats(ctx context.Context) (Stats, error)
}
