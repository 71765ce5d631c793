package cliargs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamastor/datamastor/internal/cliargs"
	"github.com/datamastor/datamastor/internal/logger"
)

// newTestCommand builds a nested dm -> db -> migrate command tree with a few
// typed flags on the leaf.
func newTestCommand() (*cobra.Command, *cobra.Command) {
	root := &cobra.Command{Use: "dm"}
	db := &cobra.Command{Use: "db"}
	migrate := &cobra.Command{
		Use: "migrate",
		Run: func(cmd *cobra.Command, args []string) {},
	}
	migrate.Flags().Bool("backup", true, "")
	migrate.Flags().Bool("write-db", false, "")
	migrate.Flags().Int("batch", 100, "")
	migrate.Flags().StringSlice("tables", nil, "")
	db.AddCommand(migrate)
	root.AddCommand(db)
	return root, migrate
}

func TestResolve(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"dm": map[string]any{
			"db": map[string]any{
				"migrate": map[string]any{
					"backup":   false,
					"batch":    25,
					"tables":   []any{"sources", "listings"},
					"renames":  "ignored-non-flag",
					"dry_note": "also-not-a-flag",
				},
			},
		},
	}

	t.Run("YAMLOverridesDefault", func(t *testing.T) {
		t.Parallel()
		_, migrate := newTestCommand()
		r := cliargs.NewResolverFromDocument(doc, logger.NewNoOp())

		res, err := r.Resolve(migrate)
		require.NoError(t, err)

		backup, err := migrate.Flags().GetBool("backup")
		require.NoError(t, err)
		assert.False(t, backup)
		assert.Equal(t, cliargs.SourceYAML, res.SourceOf("backup"))

		batch, err := migrate.Flags().GetInt("batch")
		require.NoError(t, err)
		assert.Equal(t, 25, batch)
	})

	t.Run("CmdlineWinsOverYAML", func(t *testing.T) {
		t.Parallel()
		_, migrate := newTestCommand()
		require.NoError(t, migrate.Flags().Set("batch", "7"))

		r := cliargs.NewResolverFromDocument(doc, logger.NewNoOp())
		res, err := r.Resolve(migrate)
		require.NoError(t, err)

		batch, err := migrate.Flags().GetInt("batch")
		require.NoError(t, err)
		assert.Equal(t, 7, batch)
		assert.Equal(t, cliargs.SourceFlag, res.SourceOf("batch"))
		assert.True(t, res.Explicit("batch"))
	})

	t.Run("DefaultWhenAbsentEverywhere", func(t *testing.T) {
		t.Parallel()
		_, migrate := newTestCommand()
		r := cliargs.NewResolverFromDocument(doc, logger.NewNoOp())

		res, err := r.Resolve(migrate)
		require.NoError(t, err)

		writeDB, err := migrate.Flags().GetBool("write-db")
		require.NoError(t, err)
		assert.False(t, writeDB)
		assert.Equal(t, cliargs.SourceDefault, res.SourceOf("write-db"))
		assert.False(t, res.Explicit("write-db"))
	})

	t.Run("SliceValues", func(t *testing.T) {
		t.Parallel()
		_, migrate := newTestCommand()
		r := cliargs.NewResolverFromDocument(doc, logger.NewNoOp())

		_, err := r.Resolve(migrate)
		require.NoError(t, err)

		tables, err := migrate.Flags().GetStringSlice("tables")
		require.NoError(t, err)
		assert.Equal(t, []string{"sources", "listings"}, tables)
	})

	t.Run("UnspecifiedLeftovers", func(t *testing.T) {
		t.Parallel()
		_, migrate := newTestCommand()
		r := cliargs.NewResolverFromDocument(doc, logger.NewNoOp())

		res, err := r.Resolve(migrate)
		require.NoError(t, err)

		assert.Equal(t, "ignored-non-flag", res.Unspecified["renames"])
		assert.Equal(t, "also-not-a-flag", res.Unspecified["dry_note"])
		assert.NotContains(t, res.Unspecified, "backup")
	})

	t.Run("MissingSectionIsEmpty", func(t *testing.T) {
		t.Parallel()
		_, migrate := newTestCommand()
		r := cliargs.NewResolverFromDocument(map[string]any{"other": 1}, logger.NewNoOp())

		res, err := r.Resolve(migrate)
		require.NoError(t, err)
		assert.Empty(t, res.Unspecified)

		backup, err := migrate.Flags().GetBool("backup")
		require.NoError(t, err)
		assert.True(t, backup)
	})
}

func TestSection(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"db": map[string]any{
			"renames": map[string]any{"old": "new"},
			"backup":  true,
		},
	}

	t.Run("FiltersNestedMappings", func(t *testing.T) {
		t.Parallel()
		r := cliargs.NewResolverFromDocument(doc, logger.NewNoOp())
		section := r.Section("db")
		assert.Equal(t, map[string]any{"backup": true}, section)
	})

	t.Run("DescendsIntoNestedMappings", func(t *testing.T) {
		t.Parallel()
		r := cliargs.NewResolverFromDocument(doc, logger.NewNoOp())
		section := r.Section("db", "renames")
		assert.Equal(t, map[string]any{"old": "new"}, section)
	})

	t.Run("NonMappingNodeIsEmpty", func(t *testing.T) {
		t.Parallel()
		r := cliargs.NewResolverFromDocument(doc, logger.NewNoOp())
		assert.Empty(t, r.Section("db", "backup"))
	})
}

func TestNewResolver(t *testing.T) {
	t.Parallel()

	t.Run("MissingFileDegradesToEmpty", func(t *testing.T) {
		t.Parallel()
		r := cliargs.NewResolver(filepath.Join(t.TempDir(), "nope.yml"), false, logger.NewNoOp())
		assert.Empty(t, r.Section())
	})

	t.Run("DisabledOverlayIsEmpty", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "args.yml")
		require.NoError(t, os.WriteFile(path, []byte("db:\n  backup: false\n"), 0o600))

		r := cliargs.NewResolver(path, true, logger.NewNoOp())
		assert.Empty(t, r.Section("db"))
	})

	t.Run("NonMappingDocumentDegradesToEmpty", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "args.yml")
		require.NoError(t, os.WriteFile(path, []byte("- just\n- a list\n"), 0o600))

		r := cliargs.NewResolver(path, false, logger.NewNoOp())
		assert.Empty(t, r.Section())
	})

	t.Run("ReadsFileSections", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "args.yml")
		content := "dm:\n  db:\n    migrate:\n      backup: false\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		r := cliargs.NewResolver(path, false, logger.NewNoOp())
		section := r.Section("dm", "db", "migrate")
		assert.Equal(t, map[string]any{"backup": false}, section)
	})
}
