package backend

import (
	"context"
	"fmt"

	"github.com/agentic-research/markov/api"
	"github.com/agentic-research/markov/internal/chain"
	"github.com/agentic-research/markov/internal/logger"
)

func init() {
	Register("memory", newMemory)
}

// Memory trains one in-memory chain per file and merges them after the join
// barrier. Cache ids are file paths.
type Memory struct {
	*common
}

func newMemory(_ context.Context, _ string, opts api.Options, log *logger.Logger) (Backend, error) {
	c, err := newCommon(opts, log)
	if err != nil {
		return nil, err
	}
	return &Memory{common: c}, nil
}

func (b *Memory) TrainBegin(context.Context, []string) error { return nil }

func (b *Memory) Train(ctx context.Context, file string) (chain.Model, error) {
	text, err := readInput(file)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := chain.NewMemory(b.opts.N)
	n, err := chain.Train(b.tk, b.opts.N, text, m)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", file, err)
	}
	b.log.Debug("trained", "file", file, "transitions", n, "contexts", m.Len())
	return m, nil
}

func (b *Memory) Merge(_ context.Context, parts []chain.Model) (chain.Model, error) {
	mems := make([]*chain.Memory, 0, len(parts))
	for _, p := range parts {
		if p == nil {
			continue
		}
		m, ok := p.(*chain.Memory)
		if !ok {
			return nil, fmt.Errorf("%w: memory backend cannot merge %T", api.ErrConfig, p)
		}
		mems = append(mems, m)
	}
	merged, err := chain.Merge(mems...)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		merged = chain.NewMemory(b.opts.N)
	}
	b.log.Debug("merged", "parts", len(mems), "contexts", merged.Len(), "transitions", merged.Transitions())
	return merged, nil
}

func (b *Memory) Load(_ context.Context, id string) (chain.Model, error) {
	return chain.LoadFile(id, b.opts.N)
}

func (b *Memory) Exists(_ context.Context, id string) (bool, error) {
	return fileExists(id), nil
}

func (b *Memory) FileBacked() bool { return true }

func (b *Memory) Save(_ context.Context, id string, m chain.Model) error {
	mem, ok := m.(*chain.Memory)
	if !ok {
		return fmt.Errorf("%w: memory backend cannot save %T", api.ErrConfig, m)
	}
	return mem.SaveFile(id)
}

func (b *Memory) Close() error { return nil }
