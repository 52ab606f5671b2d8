package token

import (
	"errors"
	"testing"

	"github.com/agentic-research/markov/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizer_Tokens(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		text string
		want []string
	}{
		{
			name: "words",
			cfg:  Config{Capture: `\w+`},
			text: "a b a c",
			want: []string{"a", "b", "a", "c", Terminal},
		},
		{
			name: "empty text is one terminal block",
			cfg:  Config{Capture: `\w+`},
			text: "",
			want: []string{Terminal},
		},
		{
			name: "no matches still terminates",
			cfg:  Config{Capture: `\d+`},
			text: "no digits here",
			want: []string{Terminal},
		},
		{
			name: "separator splits blocks",
			cfg:  Config{Capture: `\w+`, Separator: `\|`},
			text: "a b|c",
			want: []string{"a", "b", Terminal, "c", Terminal},
		},
		{
			name: "trailing separator drops the empty block",
			cfg:  Config{Capture: `\w+`, Separator: `\|`},
			text: "a|b|",
			want: []string{"a", Terminal, "b", Terminal},
		},
		{
			name: "leading separator keeps the empty block",
			cfg:  Config{Capture: `\w+`, Separator: `\|`},
			text: "|a",
			want: []string{Terminal, "a", Terminal},
		},
		{
			name: "empty text with separator",
			cfg:  Config{Capture: `\w+`, Separator: `\|`},
			text: "",
			want: []string{Terminal},
		},
		{
			name: "line split interleaves line breaks",
			cfg:  Config{Capture: `\w+`, SplitLines: true},
			text: "a b\n\n\nc\n",
			want: []string{"a", "b", LineBreak, "c", LineBreak, Terminal},
		},
		{
			name: "line split of empty block",
			cfg:  Config{Capture: `\w+`, SplitLines: true},
			text: "",
			want: []string{Terminal},
		},
		{
			name: "perl syntax lookahead",
			cfg:  Config{Capture: `\w+(?=!)`},
			text: "hey! you there!",
			want: []string{"hey", "there", Terminal},
		},
		{
			name: "empty matches are skipped",
			cfg:  Config{Capture: `\w*`},
			text: "ab  cd",
			want: []string{"ab", "cd", Terminal},
		},
		{
			name: "unicode",
			cfg:  Config{Capture: `\w+`, Separator: `§`},
			text: "привет мир§ещё",
			want: []string{"привет", "мир", Terminal, "ещё", Terminal},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := New(tt.cfg)
			require.NoError(t, err)
			got, err := tok.Tokens(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenizer_EndFlag(t *testing.T) {
	tok, err := New(Config{Capture: `\w+`, Separator: `;`})
	require.NoError(t, err)

	var ends int
	err = tok.Each("a;b;c", func(s string, end bool) error {
		if end {
			ends++
			assert.Equal(t, Terminal, s)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, ends)
}

func TestTokenizer_CallbackErrorStops(t *testing.T) {
	tok, err := New(Config{Capture: `\w+`})
	require.NoError(t, err)

	boom := errors.New("boom")
	var seen int
	err = tok.Each("a b c", func(string, bool) error {
		seen++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, seen)
}

func TestNew_InvalidPatterns(t *testing.T) {
	for _, cfg := range []Config{
		{Capture: ""},
		{Capture: `(`},
		{Capture: `\w+`, Separator: `[`},
	} {
		_, err := New(cfg)
		assert.ErrorIs(t, err, api.ErrConfig, "config %+v", cfg)
	}
}
