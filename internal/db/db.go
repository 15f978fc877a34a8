package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const defaultDBName = "labflow.db"

// Dialect selects the SQL flavour spoken by the connection.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect maps a driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported db driver %q", driver)
}

// Rebind rewrites ? placeholders into the dialect's positional form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '?' && !inQuote {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

type Config struct {
	Dialect   Dialect
	Workspace string

	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".labflow", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".labflow")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// PostgresDSN builds a lib/pq connection URL.
func PostgresDSN(cfg Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

// Open opens the configured database. SQLite gets foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	switch cfg.Dialect {
	case Postgres:
		return sql.Open("postgres", PostgresDSN(cfg))
	case SQLite, "":
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
		return sql.Open("sqlite", dsn)
	}
	return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
}

// Path returns the sqlite db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
