package chain

import "github.com/agentic-research/markov/internal/token"

// Builder slides a context window over a token stream and feeds every
// (context, token) transition into a Sink. One Builder serves one input file.
type Builder struct {
	n           int
	ctx         Context
	sink        Sink
	transitions int64
}

// NewBuilder returns a builder of order n writing into sink.
func NewBuilder(n int, sink Sink) *Builder {
	return &Builder{n: n, ctx: EmptyContext(n), sink: sink}
}

// Feed inserts (context, tok) and slides tok into the context.
func (b *Builder) Feed(tok string) error {
	if err := b.sink.Insert(b.ctx, tok); err != nil {
		return err
	}
	b.transitions++
	b.ctx.Shift(tok)
	return nil
}

// End inserts (context, Terminal) and starts a fresh block.
func (b *Builder) End() error {
	if err := b.sink.Insert(b.ctx, token.Terminal); err != nil {
		return err
	}
	b.transitions++
	b.ctx = EmptyContext(b.n)
	return nil
}

// Consume has the shape of token.EmitFunc.
func (b *Builder) Consume(tok string, end bool) error {
	if end {
		return b.End()
	}
	return b.Feed(tok)
}

// Transitions is the number of inserts so far.
func (b *Builder) Transitions() int64 { return b.transitions }

// Train tokenizes text and builds every transition into sink.
func Train(tk *token.Tokenizer, n int, text string, sink Sink) (int64, error) {
	b := NewBuilder(n, sink)
	if err := tk.Each(text, b.Consume); err != nil {
		return b.Transitions(), err
	}
	return b.Transitions(), nil
}
