package chain

import (
	"bufio"
	"context"
	"io"
	"math/rand/v2"

	"github.com/agentic-research/markov/internal/token"
)

// GenOptions controls generation.
type GenOptions struct {
	// Delimiter follows every emitted token except LineBreak.
	Delimiter string
	// MaxGen caps emitted tokens; 0 means no cap.
	MaxGen uint64
	// RandomStart seeds from the context of a random transition instead of
	// the empty context.
	RandomStart bool
	// Rand drives sampling. nil uses the global source.
	Rand *rand.Rand
}

// Generator samples token sequences from a completed chain.
type Generator struct {
	model Model
	opts  GenOptions
}

// NewGenerator returns a generator over m.
func NewGenerator(m Model, opts GenOptions) *Generator {
	return &Generator{model: m, opts: opts}
}

// State is the lifecycle of a Stream.
type State int

const (
	Seeding State = iota
	Emitting
	Ended
)

func (s State) String() string {
	switch s {
	case Seeding:
		return "seeding"
	case Emitting:
		return "emitting"
	case Ended:
		return "ended"
	}
	return "unknown"
}

// Stream is one finite pass over the chain. It cannot be restarted.
type Stream struct {
	g       *Generator
	state   State
	ctx     Context
	emitted uint64
}

// Stream starts a new sequence.
func (g *Generator) Stream() *Stream {
	return &Stream{g: g, state: Seeding}
}

// State reports where the stream is.
func (s *Stream) State() State { return s.state }

// Emitted is the number of tokens returned so far.
func (s *Stream) Emitted() uint64 { return s.emitted }

// Next returns the next token. ok is false once the stream has ended: the
// context was never trained, the terminal token was drawn, or MaxGen was hit.
// The first two are deliberately reported the same way.
func (s *Stream) Next(ctx context.Context) (string, bool, error) {
	if s.state == Seeding {
		if err := s.seed(ctx); err != nil {
			s.state = Ended
			return "", false, err
		}
		s.state = Emitting
	}
	if s.state == Ended {
		return "", false, nil
	}
	if limit := s.g.opts.MaxGen; limit > 0 && s.emitted >= limit {
		s.state = Ended
		return "", false, nil
	}

	tok, ok, err := s.g.model.Sample(ctx, s.ctx, s.g.opts.Rand)
	if err != nil {
		s.state = Ended
		return "", false, err
	}
	if !ok || tok == token.Terminal {
		s.state = Ended
		return "", false, nil
	}
	s.emitted++
	s.ctx.Shift(tok)
	return tok, true, nil
}

func (s *Stream) seed(ctx context.Context) error {
	n := s.g.model.Order()
	if s.g.opts.RandomStart {
		c, ok, err := s.g.model.RandomContext(ctx, s.g.opts.Rand)
		if err != nil {
			return err
		}
		if ok && len(c) == n {
			s.ctx = c
			return nil
		}
	}
	s.ctx = EmptyContext(n)
	return nil
}

// Generate writes one sequence into w and returns the bytes written.
func (g *Generator) Generate(ctx context.Context, w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	s := g.Stream()
	for {
		tok, ok, err := s.Next(ctx)
		if err != nil {
			_ = bw.Flush()
			return written, err
		}
		if !ok {
			break
		}
		n, err := bw.WriteString(tok)
		written += int64(n)
		if err != nil {
			return written, err
		}
		if tok != token.LineBreak {
			n, err = bw.WriteString(g.opts.Delimiter)
			written += int64(n)
			if err != nil {
				return written, err
			}
		}
	}
	return written, bw.Flush()
}
