package chain

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/agentic-research/markov/api"
)

const snapshotVersion = 1

// snapshot is the on-disk form of a Memory. Contexts and successor lists are
// stored in insertion order.
type snapshot struct {
	Version  int
	Order    int
	Contexts [][]string
	Next     [][]string
}

// Save writes the whole chain to w.
func (m *Memory) Save(w io.Writer) error {
	snap := snapshot{
		Version:  snapshotVersion,
		Order:    m.n,
		Contexts: make([][]string, 0, len(m.keys)),
		Next:     make([][]string, 0, len(m.keys)),
	}
	m.Each(func(c Context, next []string) bool {
		snap.Contexts = append(snap.Contexts, c)
		snap.Next = append(snap.Next, next)
		return true
	})
	if err := gob.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("encode chain: %w", err)
	}
	return nil
}

// LoadMemory reads a chain written by Save.
func LoadMemory(r io.Reader) (*Memory, error) {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decode chain: %w", api.ErrInput, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: chain format version %d, want %d", api.ErrInput, snap.Version, snapshotVersion)
	}
	if snap.Order < 1 || len(snap.Contexts) != len(snap.Next) {
		return nil, fmt.Errorf("%w: corrupt chain snapshot", api.ErrInput)
	}
	m := NewMemory(snap.Order)
	for i, c := range snap.Contexts {
		if len(c) != snap.Order {
			return nil, fmt.Errorf("%w: context %d has width %d, want %d", api.ErrInput, i, len(c), snap.Order)
		}
		ctx := Context(c)
		m.add(ctx.key(), ctx, snap.Next[i]...)
	}
	return m, nil
}

// SaveFile writes the chain to path, replacing any existing file.
func (m *Memory) SaveFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", api.ErrInput, path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	bw := bufio.NewWriter(f)
	if err := m.Save(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadFile reads a chain from path and checks it has order n.
func LoadFile(path string, n int) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: file `%s` not found: %w", api.ErrInput, path, err)
		}
		return nil, fmt.Errorf("%w: open %s: %w", api.ErrInput, path, err)
	}
	defer func() { _ = f.Close() }()

	m, err := LoadMemory(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	if m.Order() != n {
		return nil, fmt.Errorf("%w: %s holds a chain of order %d, configured N is %d", api.ErrConfig, path, m.Order(), n)
	}
	return m, nil
}
