package sqlstore

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/agentic-research/markov/api"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect captures the SQL differences between the supported engines. The
// store logic itself is identical for all of them.
type Dialect struct {
	Name string
	// Driver is the database/sql driver name.
	Driver string
	// Random is the engine's random ordering function.
	Random string
	// idType and textType are the dictionary column types.
	idType   string
	textType string
	// fkIndexes declares an explicit index per foreign key column so the
	// engine never claims the context index for a constraint.
	fkIndexes bool
	// tableSuffix is appended to CREATE TABLE.
	tableSuffix string
	// ifExists reports support for CREATE/DROP INDEX IF [NOT] EXISTS.
	ifExists bool
	// isolation reports support for READ COMMITTED transactions.
	isolation bool
	// numbered placeholders ($1) instead of ?.
	numbered bool
	// maxConns caps the pool when the engine allows a single writer.
	maxConns int
	// columns counts the columns of the table named by its single parameter.
	// PostgreSQL folds unquoted identifiers to lower case.
	columns string
	// insertIgnore wraps an INSERT so a unique violation is a no-op.
	insertIgnore func(table, cols, vals string) string
	dsn          func(st api.Storage) (string, error)
}

var dialects = map[string]*Dialect{
	"sqlite": {
		Name:     "sqlite",
		Driver:   "sqlite",
		Random:   "RANDOM()",
		idType:   "INTEGER",
		textType: "TEXT",
		ifExists: true,
		maxConns: 1,
		columns:  "SELECT COUNT(*) FROM pragma_table_info(?)",
		insertIgnore: func(table, cols, vals string) string {
			return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, cols, vals)
		},
		dsn: sqliteDSN,
	},
	"postgres": {
		Name:      "postgres",
		Driver:    "pgx",
		Random:    "random()",
		idType:    "BIGINT",
		textType:  "TEXT",
		ifExists:  true,
		isolation: true,
		numbered:  true,
		columns:   "SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = lower($1)",
		insertIgnore: func(table, cols, vals string) string {
			return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", table, cols, vals)
		},
		dsn: postgresDSN,
	},
	"mysql": {
		Name:   "mysql",
		Driver: "mysql",
		Random: "RAND()",
		idType: "BIGINT",
		// Binary comparison without PAD SPACE; InnoDB keys stop at 3072 bytes.
		textType:    "VARBINARY(3072)",
		tableSuffix: " ENGINE=InnoDB CHARACTER SET=utf8mb4",
		fkIndexes:   true,
		isolation:   true,
		columns:     "SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?",
		insertIgnore: func(table, cols, vals string) string {
			return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, cols, vals)
		},
		dsn: mysqlDSN,
	},
}

// LookupDialect returns the dialect registered under name.
func LookupDialect(name string) (*Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown SQL dialect %q", api.ErrConfig, name)
	}
	return d, nil
}

// placeholders returns the parameters for positions from..from+n-1 (1-based).
func (d *Dialect) placeholders(from, n int) []string {
	out := make([]string, n)
	for i := range out {
		if d.numbered {
			out[i] = "$" + strconv.Itoa(from+i)
		} else {
			out[i] = "?"
		}
	}
	return out
}

func (d *Dialect) param(i int) string {
	return d.placeholders(i, 1)[0]
}

func sqliteDSN(st api.Storage) (string, error) {
	if st.Endpoint == "" {
		return "", fmt.Errorf("%w: storage.endpoint (database file) is required", api.ErrConfig)
	}
	// Bulk loading tuned as in a throwaway cache; concurrent writers wait on
	// the lock instead of failing.
	pragmas := []string{
		"_pragma=busy_timeout(60000)",
		"_pragma=synchronous(OFF)",
		"_pragma=journal_mode(MEMORY)",
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	sep := "?"
	if strings.Contains(st.Endpoint, "?") {
		sep = "&"
	}
	return st.Endpoint + sep + strings.Join(pragmas, "&"), nil
}

func postgresDSN(st api.Storage) (string, error) {
	if st.Endpoint == "" {
		return "", fmt.Errorf("%w: storage.endpoint is required", api.ErrConfig)
	}
	var u *url.URL
	if strings.HasPrefix(st.Endpoint, "postgres://") || strings.HasPrefix(st.Endpoint, "postgresql://") {
		var err error
		if u, err = url.Parse(st.Endpoint); err != nil {
			return "", fmt.Errorf("%w: parse storage.endpoint: %w", api.ErrConfig, err)
		}
	} else {
		u = &url.URL{Scheme: "postgres", Host: st.Endpoint, RawQuery: "sslmode=disable"}
	}
	if st.User != "" {
		if st.Password != "" {
			u.User = url.UserPassword(st.User, st.Password)
		} else {
			u.User = url.User(st.User)
		}
	}
	if st.Database != "" {
		u.Path = "/" + st.Database
	}
	return u.String(), nil
}

func mysqlDSN(st api.Storage) (string, error) {
	if st.Endpoint == "" {
		return "", fmt.Errorf("%w: storage.endpoint is required", api.ErrConfig)
	}
	var cfg *mysql.Config
	// Full driver DSNs look like user:pass@tcp(host:3306)/db.
	if strings.Contains(st.Endpoint, "@") || strings.Contains(st.Endpoint, "(") {
		var err error
		if cfg, err = mysql.ParseDSN(st.Endpoint); err != nil {
			return "", fmt.Errorf("%w: parse storage.endpoint: %w", api.ErrConfig, err)
		}
	} else {
		cfg = mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = strings.TrimPrefix(st.Endpoint, "tcp://")
	}
	if st.User != "" {
		cfg.User = st.User
	}
	if st.Password != "" {
		cfg.Passwd = st.Password
	}
	if st.Database != "" {
		cfg.DBName = st.Database
	}
	return cfg.FormatDSN(), nil
}
