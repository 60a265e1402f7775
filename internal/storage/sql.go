// Package storage opens the SQL databases shared by the memory and profile
// stores and papers over placeholder differences between drivers.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

// Dialect identifies the SQL flavor behind a *sql.DB.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Open opens and pings a database for the given driver name
// ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	var (
		name    string
		dialect Dialect
	)
	switch driver {
	case "sqlite":
		name, dialect = "sqlite", SQLite
	case "postgres":
		name, dialect = "pgx", Postgres
	default:
		return nil, "", fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect == SQLite {
		// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, dialect, nil
}

// Rebind rewrites ? placeholders to $1..$n for Postgres.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// JSONType is the column type used for JSON payloads.
func (d Dialect) JSONType() string {
	if d == Postgres {
		return "JSONB"
	}
	return "TEXT"
}
