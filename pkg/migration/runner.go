// Package migration applies SQL migration files and tracks which ones ran.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/metrics"
	"github.com/bearslyricattack/plugman/pkg/models"
	"gorm.io/gorm"
)

const fileExt = ".sql"

// Runner applies migration directories against the host database.
type Runner struct {
	db *gorm.DB
}

func NewRunner(db *gorm.DB) *Runner {
	return &Runner{db: db}
}

// Run applies every pending migration in path in filename order. A missing path is a no-op.
// Each file runs in its own transaction together with its record, so a failure leaves the
// files before it applied and recorded.
func (r *Runner) Run(ctx context.Context, path string) ([]string, error) {
	names, err := Files(path)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	applied, err := r.appliedSet(ctx)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, name := range names {
		if _, ok := applied[name]; !ok {
			pending = append(pending, name)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	batch, err := r.nextBatch(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx)
	ran := make([]string, 0, len(pending))
	for _, name := range pending {
		content, err := os.ReadFile(filepath.Join(path, name+fileExt))
		if err != nil {
			return ran, fmt.Errorf("read migration %s: %w", name, err)
		}
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, stmt := range Statements(string(content)) {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return tx.Create(&models.MigrationRecord{Migration: name, Batch: batch}).Error
		})
		if err != nil {
			return ran, fmt.Errorf("apply migration %s: %w", name, err)
		}
		metrics.MigrationsAppliedTotal.Inc()
		log.Info("Migrated", logger.Fields{"migration": name, "batch": batch})
		ran = append(ran, name)
	}
	return ran, nil
}

// PurgeForPlugin deletes the records of every migration file in dir so a reinstall replays them.
func (r *Runner) PurgeForPlugin(ctx context.Context, dir string) error {
	names, err := Files(dir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("migration IN ?", names).Delete(&models.MigrationRecord{}).Error; err != nil {
		return fmt.Errorf("purge migration records: %w", err)
	}
	return nil
}

// Applied lists recorded migrations in the order they ran.
func (r *Runner) Applied(ctx context.Context) ([]string, error) {
	var records []models.MigrationRecord
	if err := r.db.WithContext(ctx).Order("batch, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, rec.Migration)
	}
	return names, nil
}

func (r *Runner) appliedSet(ctx context.Context) (map[string]struct{}, error) {
	names, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}

func (r *Runner) nextBatch(ctx context.Context) (int, error) {
	var last sql.NullInt64
	row := r.db.WithContext(ctx).Model(&models.MigrationRecord{}).Select("MAX(batch)").Row()
	if err := row.Scan(&last); err != nil {
		return 0, fmt.Errorf("read migration batch: %w", err)
	}
	return int(last.Int64) + 1, nil
}

// Files returns the migration names found in path, without extension, sorted.
func Files(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan migrations %s: %w", path, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Statements splits a migration file on semicolons that end a line.
func Statements(content string) []string {
	var (
		stmts   []string
		current strings.Builder
	)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				stmts = append(stmts, stmt)
			}
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		stmts = append(stmts, stmt)
	}
	return stmts
}
