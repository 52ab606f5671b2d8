package config

import (
	"fmt"
	"strings"

	"github.com/agentic-research/markov/api"
)

var simpleEscapes = map[byte]byte{
	'\\': '\\',
	'a':  '\a',
	'b':  '\b',
	'f':  '\f',
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
	'v':  '\v',
}

// Unescape decodes C-style escapes: \\ \a \b \f \n \r \t \v, three octal
// digits, \0 and \xHH. Any other escape is a configuration error. A trailing
// lone backslash is kept.
func Unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		e := s[i]
		if r, ok := simpleEscapes[e]; ok {
			b.WriteByte(r)
			continue
		}
		switch {
		case isOctal(e) && i+2 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]):
			v := int(e-'0')<<6 | int(s[i+1]-'0')<<3 | int(s[i+2]-'0')
			if v > 0xff {
				return "", escapeErr(s[i-1 : i+3])
			}
			b.WriteByte(byte(v))
			i += 2
		case e == '0':
			b.WriteByte(0)
		case e == 'x' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			end := min(i+3, len(s))
			return "", escapeErr(s[i-1 : end])
		}
	}
	return b.String(), nil
}

func escapeErr(seq string) error {
	return fmt.Errorf("%w: invalid escape sequence %q", api.ErrConfig, seq)
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	}
	return c - '0'
}
