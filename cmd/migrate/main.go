package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/config"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/logger"
)

// Migration is one numbered SQL file
type Migration struct {
	Version   int
	Name      string
	FilePath  string
	Applied   bool
	AppliedAt *time.Time
}

// rollbacks lists the table each schema migration creates
var rollbacks = map[int]string{
	1: "customers",
	2: "campaigns",
	3: "communication_logs",
}

var migrationFile = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)

func main() {
	dir := flag.String("dir", "migrations", "directory holding NNN_name.sql files")
	flag.Usage = printUsage
	flag.Parse()

	command := flag.Arg(0)
	switch command {
	case "up", "down", "status", "reset", "seed":
	case "", "help":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}

	m := &migrator{db: db, dir: *dir, log: log}
	if err := m.ensureTable(ctx); err != nil {
		log.Fatal("failed to create migration table", zap.Error(err))
	}

	switch command {
	case "up":
		err = m.up(ctx)
	case "down":
		err = m.down(ctx)
	case "status":
		err = m.status(ctx)
	case "reset":
		err = m.reset(ctx)
	case "seed":
		err = m.seed(ctx)
	}
	if err != nil {
		log.Fatal("migration command failed", zap.String("command", command), zap.Error(err))
	}
}

type migrator struct {
	db  *sql.DB
	dir string
	log *zap.Logger
}

func (m *migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *migrator) applied(ctx context.Context) (map[int]Migration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]Migration)
	for rows.Next() {
		var mig Migration
		if err := rows.Scan(&mig.Version, &mig.Name, &mig.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		mig.Applied = true
		applied[mig.Version] = mig
	}
	return applied, rows.Err()
}

// loadMigrations returns the NNN_name.sql files of dir sorted by version. A
// missing directory yields no migrations.
func loadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationFile.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			FilePath: filepath.Join(dir, entry.Name()),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// pending returns the migrations not yet recorded in applied
func pending(all []Migration, applied map[int]Migration) []Migration {
	var out []Migration
	for _, mig := range all {
		if _, ok := applied[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	return out
}

func (m *migrator) up(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	all, err := loadMigrations(m.dir)
	if err != nil {
		return err
	}

	todo := pending(all, applied)
	if len(todo) == 0 {
		m.log.Info("all migrations are up to date")
		return nil
	}

	for _, mig := range todo {
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
	}
	m.log.Info("migrations applied", zap.Int("count", len(todo)))
	return nil
}

// apply runs one migration and records it in the same transaction
func (m *migrator) apply(ctx context.Context, mig Migration) error {
	content, err := os.ReadFile(mig.FilePath)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	m.log.Info("migration applied", zap.Int("version", mig.Version), zap.String("name", mig.Name))
	return nil
}

func (m *migrator) down(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		m.log.Warn("no migrations to roll back")
		return nil
	}

	last := 0
	for version := range applied {
		if version > last {
			last = version
		}
	}
	return m.rollback(ctx, last)
}

func (m *migrator) rollback(ctx context.Context, version int) error {
	table, ok := rollbacks[version]
	if !ok {
		return fmt.Errorf("no rollback defined for migration version %d", version)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	m.log.Info("migration rolled back", zap.Int("version", version), zap.String("table", table))
	return nil
}

func (m *migrator) reset(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	versions := make([]int, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	for _, version := range versions {
		if err := m.rollback(ctx, version); err != nil {
			return err
		}
	}
	return m.up(ctx)
}

func (m *migrator) status(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	all, err := loadMigrations(m.dir)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, mig := range all {
		status, at := "pending", "-"
		if a, ok := applied[mig.Version]; ok {
			status = "applied"
			if a.AppliedAt != nil {
				at = a.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(tw, "%03d\t%s\t%s\t%s\n", mig.Version, mig.Name, status, at)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d/%d migrations applied\n", len(all)-len(pending(all, applied)), len(all))
	return nil
}

// seed runs the files under <dir>/seed. Seeds are not tracked and must be
// idempotent.
func (m *migrator) seed(ctx context.Context) error {
	seeds, err := loadMigrations(filepath.Join(m.dir, "seed"))
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		m.log.Warn("no seed files found", zap.String("dir", filepath.Join(m.dir, "seed")))
		return nil
	}

	for _, s := range seeds {
		content, err := os.ReadFile(s.FilePath)
		if err != nil {
			return err
		}
		if _, err := m.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("seed %03d_%s: %w", s.Version, s.Name, err)
		}
		m.log.Info("seed applied", zap.Int("version", s.Version), zap.String("name", s.Name))
	}
	return nil
}

func printUsage() {
	fmt.Println(strings.TrimSpace(`
Usage: go run ./cmd/migrate [-dir migrations] <command>

Commands:
  up       Apply all pending migrations
  down     Roll back the last applied migration
  status   Show migration status
  reset    Roll back every migration and reapply them
  seed     Run migrations/seed/*.sql
  help     Show this message

Migrations are tracked in schema_migrations and each runs in a transaction.
Configuration comes from POSTGRES_* environment variables.`))
}
