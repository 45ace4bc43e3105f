package migrations

import (
	"database/sql"
	"fmt"
	"strings"

	migrate "github.com/rubenv/sql-migrate"

	_ "embed"
)

const upDownSeparator = "-- +migrate Up"

// Dialects understood by Run.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

//go:embed postgres0001.sql
var postgres0001 string

//go:embed sqlite0001.sql
var sqlite0001 string

func source(id, script string) *migrate.MemoryMigrationSource {
	splitted := strings.Split(script, upDownSeparator)
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id:   id,
				Up:   []string{splitted[1]},
				Down: []string{splitted[0]},
			},
		},
	}
}

// Source returns the migration set for dialect.
func Source(dialect string) (*migrate.MemoryMigrationSource, error) {
	switch dialect {
	case DialectPostgres:
		return source("acquire0001", postgres0001), nil
	case DialectSQLite:
		return source("acquire0001", sqlite0001), nil
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
}

// Run applies every pending up migration and returns how many ran.
func Run(db *sql.DB, dialect string) (int, error) {
	src, err := Source(dialect)
	if err != nil {
		return 0, err
	}
	n, err := migrate.Exec(db, dialect, src, migrate.Up)
	if err != nil {
		return 0, fmt.Errorf("run %s migrations: %w", dialect, err)
	}
	return n, nil
}
