// Package dbman provides schema management for the SQLite database: live
// schema introspection, diffing against the declared schema, and a
// backup-protected migrate/recreate cycle. SQLite has limited ALTER TABLE
// support, so migration works by copying surviving data out, recreating all
// tables from the declared schema, and loading the data back in.
package dbman

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/datamastor/datamastor/internal/logger"
	"github.com/datamastor/datamastor/internal/storage"
)

// Renames maps table name -> old name -> new name. A table rename is
// expressed as renames[table][table] = newtable; any other entry renames a
// column of that table.
type Renames map[string]map[string]string

// Manager coordinates schema operations on a SQLite database file. It opens
// its own short-lived connections so the file can be safely copied and
// moved between operations.
type Manager struct {
	path      string
	backupDir string
	renames   Renames
	logger    logger.Interface
}

// New creates a schema manager for the database file at path.
func New(path, backupDir string, renames Renames, log logger.Interface) *Manager {
	if renames == nil {
		renames = Renames{}
	}
	return &Manager{
		path:      path,
		backupDir: backupDir,
		renames:   renames,
		logger:    log,
	}
}

// open connects to the managed database file.
func (m *Manager) open() (*sqlx.DB, error) {
	return storage.Open(m.path)
}

// LiveSchema introspects the database file and returns its schema as a
// table -> column -> type map. Internal sqlite tables are skipped.
func (m *Manager) LiveSchema(ctx context.Context) (map[string]map[string]string, error) {
	db, err := m.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return liveSchema(ctx, db)
}

func liveSchema(ctx context.Context, db *sqlx.DB) (map[string]map[string]string, error) {
	var tables []string
	query := `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`
	if err := db.SelectContext(ctx, &tables, query); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	schema := make(map[string]map[string]string, len(tables))
	for _, table := range tables {
		cols := map[string]string{}
		rows, err := db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
		if err != nil {
			return nil, fmt.Errorf("failed to introspect table %q: %w", table, err)
		}
		for rows.Next() {
			var (
				cid        int
				name, typ  string
				notnull    int
				dfltValue  any
				primaryKey int
			)
			if scanErr := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &primaryKey); scanErr != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan column of %q: %w", table, scanErr)
			}
			cols[name] = strings.ToUpper(typ)
		}
		if closeErr := rows.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close rows: %w", closeErr)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read columns of %q: %w", table, err)
		}
		schema[table] = cols
	}
	return schema, nil
}

// DeclaredSchema returns the schema declared by the storage package.
func (m *Manager) DeclaredSchema() map[string]map[string]string {
	return storage.DeclaredSchema()
}

// Diff describes how the live schema deviates from the declared one.
// Renames from the rename map are reported separately and excluded from
// the removal lists.
type Diff struct {
	// RemovedTables exist in the live schema but not the declared one.
	RemovedTables []string
	// RemovedColumns exist on a live table but not the declared one.
	RemovedColumns map[string][]string
	// AddedTables exist only in the declared schema.
	AddedTables []string
	// AddedColumns exist only on the declared table.
	AddedColumns map[string][]string
	// ChangedColumns have a different type in the declared schema,
	// formatted as "LIVE -> DECLARED".
	ChangedColumns map[string]map[string]string
	// RenamedTables maps live table names to their declared names.
	RenamedTables map[string]string
	// RenamedColumns maps table -> live column -> declared column.
	RenamedColumns map[string]map[string]string
}

// Empty reports whether the schemas match.
func (d *Diff) Empty() bool {
	return len(d.RemovedTables) == 0 &&
		len(d.RemovedColumns) == 0 &&
		len(d.AddedTables) == 0 &&
		len(d.AddedColumns) == 0 &&
		len(d.ChangedColumns) == 0 &&
		len(d.RenamedTables) == 0 &&
		len(d.RenamedColumns) == 0
}

// Diff compares the live schema with the declared one.
func (m *Manager) Diff(ctx context.Context) (*Diff, error) {
	live, err := m.LiveSchema(ctx)
	if err != nil {
		return nil, err
	}
	return m.diffSchemas(live, m.DeclaredSchema()), nil
}

func (m *Manager) diffSchemas(live, declared map[string]map[string]string) *Diff {
	d := &Diff{
		RemovedColumns: map[string][]string{},
		AddedColumns:   map[string][]string{},
		ChangedColumns: map[string]map[string]string{},
		RenamedTables:  map[string]string{},
		RenamedColumns: map[string]map[string]string{},
	}

	for _, table := range sortedKeys(live) {
		target := m.targetTable(table)
		declaredCols, exists := declared[target]
		if !exists {
			if target != table {
				// Renamed to a table the declared schema does not have
				// either; treat as removed.
				m.logger.Warn("Rename target does not exist in declared schema",
					"table", table, "target", target)
			}
			d.RemovedTables = append(d.RemovedTables, table)
			continue
		}
		if target != table {
			d.RenamedTables[table] = target
		}

		tableRenames := m.renames[table]
		for _, col := range sortedKeys(live[table]) {
			targetCol := col
			if renamed, ok := tableRenames[col]; ok && col != table {
				targetCol = renamed
			}
			declaredType, declaredHas := declaredCols[targetCol]
			switch {
			case !declaredHas:
				d.RemovedColumns[table] = append(d.RemovedColumns[table], col)
			case targetCol != col:
				if d.RenamedColumns[table] == nil {
					d.RenamedColumns[table] = map[string]string{}
				}
				d.RenamedColumns[table][col] = targetCol
			case declaredType != live[table][col]:
				if d.ChangedColumns[table] == nil {
					d.ChangedColumns[table] = map[string]string{}
				}
				d.ChangedColumns[table][col] = fmt.Sprintf("%s -> %s", live[table][col], declaredType)
			}
		}

		// Columns the declared table has but the live one does not.
		liveTargets := map[string]bool{}
		for col := range live[table] {
			targetCol := col
			if renamed, ok := tableRenames[col]; ok && col != table {
				targetCol = renamed
			}
			liveTargets[targetCol] = true
		}
		for _, col := range sortedKeys(declaredCols) {
			if !liveTargets[col] {
				d.AddedColumns[target] = append(d.AddedColumns[target], col)
			}
		}
	}

	// Tables only the declared schema has.
	liveTargets := map[string]bool{}
	for table := range live {
		liveTargets[m.targetTable(table)] = true
	}
	for _, table := range sortedKeys(declared) {
		if !liveTargets[table] {
			d.AddedTables = append(d.AddedTables, table)
		}
	}

	return d
}

// targetTable resolves a live table name through the rename map.
func (m *Manager) targetTable(table string) string {
	if tableRenames, ok := m.renames[table]; ok {
		if renamed, ok := tableRenames[table]; ok {
			return renamed
		}
	}
	return table
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
