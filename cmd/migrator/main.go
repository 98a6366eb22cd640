// Command migrator applies the Postgres *.up.sql migrations in name order,
// each in its own transaction, recording them in schema_migrations.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/config"
	"github.com/lalithlochan/taskbell/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "/migrations"
	}

	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(databaseURL(cfg))
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol // allow multi-statement migrations
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "taskbell-migrator"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := ensureSchemaTable(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	m := &migrator{pool: pool, logger: logger}
	applied, skipped, err := m.apply(ctx, migrationsDir)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("migrations complete",
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
	)
	return nil
}

// databaseURL prefers DATABASE_URL and falls back to the DB_* settings.
func databaseURL(cfg *config.Config) string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
		Path:     cfg.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.DBSSLMode),
	}
	return u.String()
}

func ensureSchemaTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            name TEXT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `)
	return err
}

type migrator struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func (m *migrator) apply(ctx context.Context, dir string) (applied, skipped int, err error) {
	names, err := migrationNames(dir)
	if err != nil {
		return 0, 0, err
	}

	for _, name := range names {
		var done bool
		err := m.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)", name).Scan(&done)
		if err != nil {
			return applied, skipped, fmt.Errorf("check applied %s: %w", name, err)
		}
		if done {
			m.logger.Debug("skip migration", zap.String("name", name))
			skipped++
			continue
		}

		contents, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return applied, skipped, fmt.Errorf("read %s: %w", name, err)
		}

		start := time.Now()
		err = pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(contents)); err != nil {
				return fmt.Errorf("execute %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations(name) VALUES($1) ON CONFLICT DO NOTHING", name); err != nil {
				return fmt.Errorf("mark applied %s: %w", name, err)
			}
			return nil
		})
		if err != nil {
			return applied, skipped, err
		}

		applied++
		m.logger.Info("applied migration",
			zap.String("name", name),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)),
		)
	}

	return applied, skipped, nil
}

// migrationNames lists the *.up.sql files of dir in lexical order.
func migrationNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	slices.Sort(names)
	return names, nil
}
