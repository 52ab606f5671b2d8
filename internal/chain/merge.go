package chain

import "sync"

// Merge folds partial chains into one. The first non-nil part is the
// accumulator and is modified; a single part is returned as is. The candidate
// multisets of the result do not depend on the order of parts.
func Merge(parts ...*Memory) (*Memory, error) {
	var acc *Memory
	for _, p := range parts {
		if p == nil {
			continue
		}
		if acc == nil {
			acc = p
			continue
		}
		if _, err := acc.Merge(p); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// Accumulator absorbs partial chains as workers finish. One mutex guards the
// whole absorb.
type Accumulator struct {
	mu    sync.Mutex
	chain *Memory
}

// NewAccumulator starts from an empty chain of order n.
func NewAccumulator(n int) *Accumulator {
	return &Accumulator{chain: NewMemory(n)}
}

// Absorb merges part into the accumulated chain.
func (a *Accumulator) Absorb(part *Memory) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.chain.Merge(part)
	return err
}

// Chain returns the accumulated chain. Call it only after every Absorb has
// returned.
func (a *Accumulator) Chain() *Memory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chain
}
