// Package migrations applies the embedded ledger schema with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed sql/*.sql
var files embed.FS

// ErrDirty reports a schema left half-applied by an earlier failed run.
var ErrDirty = errors.New("migrations: dirty database")

// Direction selects which way Run moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection accepts "up" or "down".
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case Up, Down:
		return Direction(raw), nil
	}
	return "", fmt.Errorf("migrations: unknown direction %q", raw)
}

// Files exposes the embedded migration directory.
func Files() fs.FS {
	sub, err := fs.Sub(files, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Run opens a short-lived database/sql connection through the pgx stdlib
// driver and applies every pending migration in the given direction.
func Run(dsn string, dir Direction, logger *slog.Logger) (uint, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return 0, fmt.Errorf("migrations: open: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Error("close migration connection", slog.Any("error", cerr))
		}
	}()
	if err := conn.Ping(); err != nil {
		return 0, fmt.Errorf("migrations: ping: %w", err)
	}

	driver, err := postgres.WithInstance(conn, &postgres.Config{MultiStatementEnabled: true})
	if err != nil {
		return 0, fmt.Errorf("migrations: driver: %w", err)
	}
	source, err := iofs.New(files, "sql")
	if err != nil {
		return 0, fmt.Errorf("migrations: source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("migrations: init: %w", err)
	}

	switch dir {
	case Down:
		err = m.Down()
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return uint(dirty.Version), fmt.Errorf("%w: version %d", ErrDirty, dirty.Version)
		}
		return 0, fmt.Errorf("migrations: %s: %w", dir, err)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no new migrations to apply")
	}

	version, _, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("migrations: version: %w", verr)
	}
	logger.Info("migrations applied", slog.String("direction", string(dir)), slog.Uint64("version", uint64(version)))
	return version, nil
}
