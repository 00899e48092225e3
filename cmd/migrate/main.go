package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	appmigrations "github.com/cabinetdz/cabinet-platform/migrations"
	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// Applies the embedded schema migrations.
//
//	migrate                  apply everything pending
//	migrate down 1           roll back one step
//	migrate force <version>  clear a dirty version marker
func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL")).Named("migrate")

	m, cleanup := newMigrator(logger)
	defer cleanup()

	switch {
	case len(os.Args) >= 3 && os.Args[1] == "force":
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Error("invalid version", "arg", os.Args[2], "error", err)
			os.Exit(1)
		}
		if err := m.Force(version); err != nil {
			logger.Error("force version failed", "version", version, "error", err)
			os.Exit(1)
		}
		logger.Info("version forced", "version", version)
	case len(os.Args) >= 2 && os.Args[1] == "down":
		steps := 1
		if len(os.Args) >= 3 {
			n, err := strconv.Atoi(os.Args[2])
			if err != nil || n < 1 {
				logger.Error("invalid step count", "arg", os.Args[2])
				os.Exit(1)
			}
			steps = n
		}
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Error("migrate down failed", "steps", steps, "error", err)
			os.Exit(1)
		}
		logger.Info("rolled back", "steps", steps)
	default:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Error("migrate up failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations complete")
	}
}

func newMigrator(logger *logging.Logger) (*migrate.Migrate, func()) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		logger.Error("open db failed", "error", err)
		os.Exit(1)
	}
	if err := db.Ping(); err != nil {
		logger.Error("ping db failed", "error", err)
		os.Exit(1)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Error("db driver init failed", "error", err)
		os.Exit(1)
	}
	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		logger.Error("embedded source init failed", "error", err)
		os.Exit(1)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Error("migrator init failed", "error", err)
		os.Exit(1)
	}
	return m, func() {
		_, _ = m.Close()
		_ = db.Close()
	}
}
