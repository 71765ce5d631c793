package dbman_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamastor/datamastor/internal/dbman"
	"github.com/datamastor/datamastor/internal/logger"
	"github.com/datamastor/datamastor/internal/storage"
)

// newTestDB creates a database file and executes the given statements
// against it.
func newTestDB(t *testing.T, statements ...string) (dbPath, backupDir string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "datamastor.db")
	backupDir = filepath.Join(dir, "backups")

	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range statements {
		_, err = db.ExecContext(context.Background(), stmt)
		require.NoError(t, err)
	}
	return dbPath, backupDir
}

// legacySchema models an out-of-date database: the sources table still goes
// by its old name with an old column, carries a column the current schema
// dropped, and a scraps table no model references anymore.
var legacySchema = []string{
	`CREATE TABLE shops (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		addr TEXT NOT NULL,
		level INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		junk TEXT
	)`,
	`CREATE TABLE scraps (id INTEGER PRIMARY KEY, blob TEXT)`,
	`INSERT INTO shops (url, addr, level, created_at, junk)
		VALUES ('https://shop.example', '', 0, '2025-01-02 03:04:05', 'stale')`,
	`INSERT INTO shops (url, addr, level, created_at, junk)
		VALUES ('https://shop.example/candy', 'https://shop.example', 1, '2025-01-02 03:04:05', NULL)`,
	`INSERT INTO scraps (blob) VALUES ('leftover')`,
}

var legacyRenames = dbman.Renames{
	"shops": {
		"shops": "sources",
		"addr":  "parent_url",
	},
}

func TestLiveSchema(t *testing.T) {
	t.Parallel()

	dbPath, backupDir := newTestDB(t)
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, storage.CreateAll(context.Background(), db))
	require.NoError(t, db.Close())

	m := dbman.New(dbPath, backupDir, nil, logger.NewNoOp())
	live, err := m.LiveSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.DeclaredSchema(), live)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	t.Run("EmptyWhenSchemasMatch", func(t *testing.T) {
		t.Parallel()
		dbPath, backupDir := newTestDB(t)
		db, err := storage.Open(dbPath)
		require.NoError(t, err)
		require.NoError(t, storage.CreateAll(context.Background(), db))
		require.NoError(t, db.Close())

		m := dbman.New(dbPath, backupDir, nil, logger.NewNoOp())
		diff, err := m.Diff(context.Background())
		require.NoError(t, err)
		assert.True(t, diff.Empty())
	})

	t.Run("ReportsLegacyDeviations", func(t *testing.T) {
		t.Parallel()
		dbPath, backupDir := newTestDB(t, legacySchema...)

		m := dbman.New(dbPath, backupDir, legacyRenames, logger.NewNoOp())
		diff, err := m.Diff(context.Background())
		require.NoError(t, err)

		assert.False(t, diff.Empty())
		assert.Equal(t, []string{"scraps"}, diff.RemovedTables)
		assert.Equal(t, map[string]string{"shops": "sources"}, diff.RenamedTables)
		assert.Equal(t, map[string]map[string]string{
			"shops": {"addr": "parent_url"},
		}, diff.RenamedColumns)
		assert.Equal(t, []string{"junk"}, diff.RemovedColumns["shops"])
		assert.ElementsMatch(t, []string{"include", "parent_id", "status"}, diff.AddedColumns["sources"])
		assert.ElementsMatch(t,
			[]string{"tags", "sources_to_tags", "tags_to_tags", "products", "listings"},
			diff.AddedTables)
	})
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath, backupDir := newTestDB(t, legacySchema...)

	m := dbman.New(dbPath, backupDir, legacyRenames, logger.NewNoOp())
	require.NoError(t, m.Migrate(ctx, dbman.RunOptions{Backup: true, WriteDB: true}))

	live, err := m.LiveSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.DeclaredSchema(), live)

	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var urls []string
	require.NoError(t, db.SelectContext(ctx, &urls, "SELECT url FROM sources ORDER BY url"))
	assert.Equal(t, []string{"https://shop.example", "https://shop.example/candy"}, urls)

	var parentURL string
	require.NoError(t, db.GetContext(ctx, &parentURL,
		"SELECT parent_url FROM sources WHERE url = ?", "https://shop.example/candy"))
	assert.Equal(t, "https://shop.example", parentURL)

	backups, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
}

func TestMigrateDryRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("RequiresBackup", func(t *testing.T) {
		t.Parallel()
		dbPath, backupDir := newTestDB(t, legacySchema...)
		m := dbman.New(dbPath, backupDir, legacyRenames, logger.NewNoOp())
		err := m.Migrate(ctx, dbman.RunOptions{})
		assert.ErrorIs(t, err, dbman.ErrDryRunWithoutBackup)
	})

	t.Run("RestoresBackupAndKeepsTrialResult", func(t *testing.T) {
		t.Parallel()
		dbPath, backupDir := newTestDB(t, legacySchema...)
		m := dbman.New(dbPath, backupDir, legacyRenames, logger.NewNoOp())
		require.NoError(t, m.Migrate(ctx, dbman.RunOptions{Backup: true}))

		// The live file is back to the legacy schema.
		live, err := m.LiveSchema(ctx)
		require.NoError(t, err)
		assert.Contains(t, live, "shops")
		assert.NotContains(t, live, "sources")

		// The trial result sits next to it with a .dryrun suffix.
		trial := dbman.New(dbPath+".dryrun", backupDir, nil, logger.NewNoOp())
		trialSchema, err := trial.LiveSchema(ctx)
		require.NoError(t, err)
		assert.Equal(t, storage.DeclaredSchema(), trialSchema)
	})
}

func TestRecreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath, backupDir := newTestDB(t)
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, storage.CreateAll(ctx, db))
	_, err = db.ExecContext(ctx, `INSERT INTO tags (name) VALUES ('candy')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	m := dbman.New(dbPath, backupDir, nil, logger.NewNoOp())
	require.NoError(t, m.Recreate(ctx, dbman.RunOptions{Backup: true, WriteDB: true}))

	db, err = storage.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.GetContext(ctx, &count, "SELECT COUNT(*) FROM tags"))
	assert.Zero(t, count)
}

func TestLoadRenames(t *testing.T) {
	t.Parallel()

	t.Run("MissingFileIsEmpty", func(t *testing.T) {
		t.Parallel()
		renames, err := dbman.LoadRenames(filepath.Join(t.TempDir(), "absent.yml"))
		require.NoError(t, err)
		assert.Empty(t, renames)
	})

	t.Run("ParsesTableAndColumnRenames", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "renames.yml")
		doc := "shops:\n  shops: sources\n  addr: parent_url\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

		renames, err := dbman.LoadRenames(path)
		require.NoError(t, err)
		assert.Equal(t, legacyRenames, renames)
	})
}
