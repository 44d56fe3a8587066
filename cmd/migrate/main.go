package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-booking-api/pkg/config"
	"github.com/noah-isme/campus-booking-api/pkg/database"
	"github.com/noah-isme/campus-booking-api/pkg/logger"
)

func main() {
	path := flag.String("path", "migrations", "directory holding the migration files")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-path dir] up [N] | down [N] | version | force V\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	m, err := open(cfg, *path)
	if err != nil {
		logr.Fatal("failed to prepare migrations", zap.Error(err))
	}
	defer m.Close()

	if err := run(m, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logr.Info("no migrations to apply")
			return
		}
		logr.Fatal("migration failed", zap.String("command", flag.Arg(0)), zap.Error(err))
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logr.Fatal("failed to read migration version", zap.Error(err))
	}
	logr.Info("migrations done", zap.Uint("version", version), zap.Bool("dirty", dirty))
}

func open(cfg *config.Config, dir string) (*migrate.Migrate, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("driver: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
}

func run(m *migrate.Migrate, cmd string, args []string) error {
	steps := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid argument %q", args[0])
		}
		steps = n
	}

	switch cmd {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	case "down":
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	case "force":
		if len(args) == 0 {
			return errors.New("force requires a version")
		}
		return m.Force(steps)
	case "version":
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
