package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// open opens a database handle and verifies it, creating dir first when set.
// SQLite goes through modernc.org/sqlite, a pure Go driver (no CGO).
func open(driver, dsn, dir string) (*sql.DB, error) {
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	return db, nil
}

func sqlitePath(path string) string {
	if path == "" {
		return "./heron.db"
	}
	return path
}

func sqliteDir(path string) string {
	return filepath.Dir(sqlitePath(path))
}

// sqliteDSN builds the connection string with pragmas for concurrent batch writes.
func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", sqlitePath(path))
}
