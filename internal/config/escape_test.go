package config

import (
	"testing"

	"github.com/agentic-research/markov/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnescape(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{`a\nb`, "a\nb"},
		{`\\`, `\`},
		{`\a\b\f\r\t\v`, "\a\b\f\r\t\v"},
		{`\101\102`, "AB"},
		{`\0`, "\x00"},
		{`\0x`, "\x00x"},
		{`\0a`, "\x00a"},
		{`end\0`, "end\x00"},
		{`\x41\x7e`, "A~"},
		{`\xfF`, "\xff"},
		{`tail\`, `tail\`},
		{`\\n`, `\n`},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Unescape(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestUnescape_Invalid(t *testing.T) {
	for _, in := range []string{`\q`, `\x4`, `\xzz`, `\8`, `\12`, `\400`} {
		t.Run(in, func(t *testing.T) {
			_, err := Unescape(in)
			assert.ErrorIs(t, err, api.ErrConfig)
		})
	}
}
