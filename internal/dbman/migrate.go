package dbman

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/datamastor/datamastor/internal/storage"
)

// File suffixes used by trySafely to keep intermediate database states
// around for inspection.
const (
	errSuffix    = ".err"
	dryRunSuffix = ".dryrun"
)

// RunOptions control how destructive schema operations run. Without WriteDB
// the operation is a dry run: it executes against the real file but the
// backup is restored afterwards and the trial result kept with a .dryrun
// suffix. A dry run therefore requires Backup.
type RunOptions struct {
	Backup  bool
	WriteDB bool
}

// Recreate drops every managed table and creates them again from the
// declared schema. All data is lost.
func (m *Manager) Recreate(ctx context.Context, opts RunOptions) error {
	return m.trySafely(ctx, "recreate", opts, func(db *sqlx.DB) error {
		if err := storage.DropAll(ctx, db); err != nil {
			return err
		}
		return storage.CreateAll(ctx, db)
	})
}

// Migrate rebuilds the database to match the declared schema while keeping
// the data that survives it. Renamed tables and columns carry their data
// over; removed columns are dropped; added columns come up empty.
func (m *Manager) Migrate(ctx context.Context, opts RunOptions) error {
	diff, err := m.Diff(ctx)
	if err != nil {
		return err
	}
	if diff.Empty() {
		m.logger.Info("Schema already matches, nothing to migrate")
		return nil
	}

	return m.trySafely(ctx, "migrate", opts, func(db *sqlx.DB) error {
		// Foreign keys are off during the rebuild so tables can be
		// dropped and reloaded in any order.
		if _, pragmaErr := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); pragmaErr != nil {
			return fmt.Errorf("failed to disable foreign keys: %w", pragmaErr)
		}
		saved, saveErr := m.saveData(ctx, db, diff)
		if saveErr != nil {
			return saveErr
		}
		if dropErr := m.dropLive(ctx, db); dropErr != nil {
			return dropErr
		}
		if createErr := storage.CreateAll(ctx, db); createErr != nil {
			return createErr
		}
		if loadErr := m.loadData(ctx, db, saved); loadErr != nil {
			return loadErr
		}
		_, pragmaErr := db.ExecContext(ctx, "PRAGMA foreign_keys = ON")
		return pragmaErr
	})
}

// trySafely runs fn against the database under backup protection. On
// failure the backup is restored and the broken file kept with an .err
// suffix so it can be inspected.
func (m *Manager) trySafely(ctx context.Context, name string, opts RunOptions, fn func(*sqlx.DB) error) error {
	if !opts.WriteDB && !opts.Backup {
		return ErrDryRunWithoutBackup
	}

	var backupPath string
	if opts.Backup {
		var err error
		if backupPath, err = m.Backup(); err != nil {
			return err
		}
	}

	runErr := func() error {
		db, err := m.open()
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(db)
	}()

	switch {
	case runErr != nil && backupPath != "":
		m.logger.Error("Operation failed, restoring backup", "operation", name, "error", runErr)
		if restoreErr := m.restore(backupPath, errSuffix); restoreErr != nil {
			return fmt.Errorf("failed to restore after %s error: %w", name, restoreErr)
		}
		return fmt.Errorf("%s failed (backup restored): %w", name, runErr)
	case runErr != nil:
		return fmt.Errorf("%s failed: %w", name, runErr)
	case !opts.WriteDB:
		m.logger.Info("Dry run complete, restoring backup", "operation", name)
		if restoreErr := m.restore(backupPath, dryRunSuffix); restoreErr != nil {
			return fmt.Errorf("failed to restore after %s dry run: %w", name, restoreErr)
		}
		return nil
	default:
		m.logger.Info("Operation complete", "operation", name)
		return nil
	}
}

// dropLive drops every table the live database has, declared or not, so
// legacy tables do not survive the rebuild.
func (m *Manager) dropLive(ctx context.Context, db *sqlx.DB) error {
	live, err := liveSchema(ctx, db)
	if err != nil {
		return err
	}
	for _, table := range sortedKeys(live) {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", table)); err != nil {
			return fmt.Errorf("failed to drop table %q: %w", table, err)
		}
	}
	return nil
}

// tableData holds the rows of one table that survive migration, already
// keyed by their post-migration column names.
type tableData struct {
	table   string
	columns []string
	rows    [][]any
}

// saveData reads every surviving table's rows, applying renames and
// dropping removed columns.
func (m *Manager) saveData(ctx context.Context, db *sqlx.DB, diff *Diff) ([]tableData, error) {
	live, err := liveSchema(ctx, db)
	if err != nil {
		return nil, err
	}

	removedTables := map[string]bool{}
	for _, table := range diff.RemovedTables {
		removedTables[table] = true
	}
	declared := m.DeclaredSchema()

	var saved []tableData
	for _, table := range sortedKeys(live) {
		if removedTables[table] {
			m.logger.Warn("Dropping table and its data", "table", table)
			continue
		}
		target := m.targetTable(table)
		declaredCols := declared[target]

		// Live columns that map onto a declared column survive.
		var liveCols, targetCols []string
		tableRenames := m.renames[table]
		for _, col := range sortedKeys(live[table]) {
			targetCol := col
			if renamed, ok := tableRenames[col]; ok && col != table {
				targetCol = renamed
			}
			if _, ok := declaredCols[targetCol]; !ok {
				m.logger.Warn("Dropping column and its data", "table", table, "column", col)
				continue
			}
			liveCols = append(liveCols, col)
			targetCols = append(targetCols, targetCol)
		}
		if len(liveCols) == 0 {
			continue
		}

		query := fmt.Sprintf("SELECT %s FROM %q", quoteJoin(liveCols), table)
		rows, queryErr := db.QueryxContext(ctx, query)
		if queryErr != nil {
			return nil, fmt.Errorf("failed to read rows of %q: %w", table, queryErr)
		}
		data := tableData{table: target, columns: targetCols}
		for rows.Next() {
			values, sliceErr := rows.SliceScan()
			if sliceErr != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan row of %q: %w", table, sliceErr)
			}
			data.rows = append(data.rows, values)
		}
		if closeErr := rows.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close rows: %w", closeErr)
		}
		if rowsErr := rows.Err(); rowsErr != nil {
			return nil, fmt.Errorf("failed to read rows of %q: %w", table, rowsErr)
		}
		saved = append(saved, data)
		m.logger.Info("Saved table data", "table", table, "target", target, "rows", len(data.rows))
	}
	return saved, nil
}

// loadData inserts the saved rows back in declared table order so foreign
// keys resolve.
func (m *Manager) loadData(ctx context.Context, db *sqlx.DB, saved []tableData) error {
	byTable := map[string]tableData{}
	for _, data := range saved {
		byTable[data.table] = data
	}
	for _, table := range storage.Tables() {
		data, ok := byTable[table]
		if !ok || len(data.rows) == 0 {
			continue
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(data.columns)), ", ")
		query := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, quoteJoin(data.columns), placeholders)
		for _, row := range data.rows {
			if _, err := db.ExecContext(ctx, query, row...); err != nil {
				return fmt.Errorf("failed to load row into %q: %w", table, err)
			}
		}
		m.logger.Info("Loaded table data", "table", table, "rows", len(data.rows))
	}
	return nil
}

func quoteJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = fmt.Sprintf("%q", col)
	}
	return strings.Join(quoted, ", ")
}
