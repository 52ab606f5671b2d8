package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactDSN(t *testing.T) {
	tests := map[string]string{
		"postgres://bob:hunter2@db:5432/markov": "postgres://bob:[REDACTED]@db:5432/markov",
		"bob:hunter2@tcp(127.0.0.1:3306)/markov": "bob:[REDACTED]@tcp(127.0.0.1:3306)/markov",
		"/tmp/chain.db":                          "/tmp/chain.db",
		"bob@db":                                 "bob@db",
	}
	for in, want := range tests {
		assert.Equal(t, want, RedactDSN(in), in)
	}
}

func TestSanitizeKVs(t *testing.T) {
	got := sanitizeKVs([]interface{}{"user", "bob", "password", "hunter2", "dsn", "a:b@c", "dangling"})
	assert.Equal(t, []interface{}{"user", "bob", "password", "[REDACTED]", "dsn", "a:[REDACTED]@c", "dangling"}, got)
}

func TestNop(t *testing.T) {
	l := Nop().With("k", "v")
	l.Info("discarded", "password", "x")
	l.Sync()
}
