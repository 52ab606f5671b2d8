// Package token turns raw corpus text into the token stream consumed by the
// chain builder.
//
// Patterns use Perl-style syntax (github.com/dlclark/regexp2) with ^ and $
// matching at line boundaries. They are compiled once per run and reused for
// every file; a Tokenizer is safe for concurrent use.
package token

import (
	"fmt"

	"github.com/agentic-research/markov/api"
	"github.com/dlclark/regexp2"
)

const (
	// Terminal marks the end of a block. It is also the value every slot of a
	// fresh context holds.
	Terminal = ""
	// LineBreak is inserted between lines when line splitting is on.
	LineBreak = "\n"
)

const lineSplitPattern = `\n+`

// Config selects how text is cut into tokens.
type Config struct {
	// Capture matches one token.
	Capture string
	// Separator, if non-empty, splits text into independent blocks.
	Separator string
	// SplitLines emits LineBreak between the lines of a block.
	SplitLines bool
}

// Tokenizer holds the compiled patterns of a Config.
type Tokenizer struct {
	capture   *regexp2.Regexp
	separator *regexp2.Regexp
	lines     *regexp2.Regexp
}

// EmitFunc receives every token in stream order. end is true exactly once per
// block, together with the Terminal token.
type EmitFunc func(tok string, end bool) error

// New compiles the patterns of cfg.
func New(cfg Config) (*Tokenizer, error) {
	if cfg.Capture == "" {
		return nil, fmt.Errorf("%w: capture pattern is empty", api.ErrConfig)
	}
	t := &Tokenizer{}
	var err error
	if t.capture, err = compile("capture", cfg.Capture); err != nil {
		return nil, err
	}
	if cfg.Separator != "" {
		if t.separator, err = compile("separator", cfg.Separator); err != nil {
			return nil, err
		}
	}
	if cfg.SplitLines {
		if t.lines, err = compile("line split", lineSplitPattern); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func compile(name, expr string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(expr, regexp2.Multiline)
	if err != nil {
		return nil, fmt.Errorf("%w: %s pattern %q: %w", api.ErrConfig, name, expr, err)
	}
	return re, nil
}

// Each tokenizes text and calls fn for every token. A block with no matches
// still produces its terminal token, and so does empty text.
func (t *Tokenizer) Each(text string, fn EmitFunc) error {
	blocks := []string{text}
	if t.separator != nil {
		var err error
		if blocks, err = split(t.separator, text); err != nil {
			return err
		}
		if len(blocks) == 0 {
			blocks = []string{""}
		}
	}

	for _, block := range blocks {
		if err := t.block(block, fn); err != nil {
			return err
		}
		if err := fn(Terminal, true); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tokenizer) block(block string, fn EmitFunc) error {
	if t.lines == nil {
		return t.captures(block, fn)
	}
	lines, err := split(t.lines, block)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if err := t.captures(line, fn); err != nil {
			return err
		}
		if err := fn(LineBreak, false); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tokenizer) captures(unit string, fn EmitFunc) error {
	m, err := t.capture.FindStringMatch(unit)
	for ; m != nil && err == nil; m, err = t.capture.FindNextMatch(m) {
		if m.Length == 0 {
			// An empty capture would read back as Terminal.
			continue
		}
		if err := fn(m.String(), false); err != nil {
			return err
		}
	}
	if err != nil {
		return fmt.Errorf("match capture pattern: %w", err)
	}
	return nil
}

// Tokens returns the whole token stream of text, terminals included.
func (t *Tokenizer) Tokens(text string) ([]string, error) {
	var out []string
	err := t.Each(text, func(tok string, _ bool) error {
		out = append(out, tok)
		return nil
	})
	return out, err
}

// split cuts text on every match of re. A leading empty piece is kept, a
// trailing empty piece is dropped and text without any match is one piece
// (none when text is empty).
func split(re *regexp2.Regexp, text string) ([]string, error) {
	runes := []rune(text)
	var pieces []string
	last := 0
	m, err := re.FindRunesMatch(runes)
	for ; m != nil && err == nil; m, err = re.FindNextMatch(m) {
		if m.Length == 0 {
			continue
		}
		pieces = append(pieces, string(runes[last:m.Index]))
		last = m.Index + m.Length
	}
	if err != nil {
		return nil, fmt.Errorf("match %q: %w", re.String(), err)
	}
	if last < len(runes) {
		pieces = append(pieces, string(runes[last:]))
	}
	return pieces, nil
}
