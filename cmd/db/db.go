// Package db implements the database management commands: schema
// inspection, diffing, and the backup-protected migrate and recreate
// operations.
package db

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/datamastor/datamastor/cmd/common"
	"github.com/datamastor/datamastor/internal/dbman"
)

// Command creates the db parent command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the SQLite database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(dbmdCommand())
	cmd.AddCommand(srcmdCommand())
	cmd.AddCommand(diffCommand())
	cmd.AddCommand(migrateCommand())
	cmd.AddCommand(recreateCommand())
	return cmd
}

// newManager builds the schema manager from the command's resolved
// configuration, including the rename map from the args file.
func newManager(cmd *cobra.Command) (*dbman.Manager, common.CommandDeps, error) {
	deps, err := common.NewCommandDeps()
	if err != nil {
		return nil, common.CommandDeps{}, fmt.Errorf("failed to get dependencies: %w", err)
	}
	if _, err := deps.Args.Resolve(cmd); err != nil {
		return nil, common.CommandDeps{}, err
	}

	renames, err := renamesFromArgs(deps)
	if err != nil {
		return nil, common.CommandDeps{}, err
	}

	dbCfg := deps.Config.GetDatabaseConfig()
	manager := dbman.New(dbCfg.Path, dbCfg.BackupDir, renames, deps.Logger)
	return manager, deps, nil
}

// renamesFromArgs reads the db.renames section of the args file.
func renamesFromArgs(deps common.CommandDeps) (dbman.Renames, error) {
	section := deps.Args.Section("dm", "db")
	raw, ok := section["renames"]
	if !ok {
		return dbman.Renames{}, nil
	}
	path, isString := raw.(string)
	if !isString {
		return nil, fmt.Errorf("db renames must be a file path, got %T", raw)
	}
	renames, err := dbman.LoadRenames(path)
	if err != nil {
		return nil, err
	}
	return renames, nil
}

func dbmdCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dbmd",
		Short: "Print the live database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			schema, err := manager.LiveSchema(cmd.Context())
			if err != nil {
				return err
			}
			renderSchema("Live schema", schema)
			return nil
		},
	}
}

func srcmdCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "srcmd",
		Short: "Print the declared model schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			renderSchema("Declared schema", manager.DeclaredSchema())
			return nil
		},
	}
}

func diffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Show how the live schema deviates from the declared one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, deps, err := newManager(cmd)
			if err != nil {
				return err
			}
			diff, err := manager.Diff(cmd.Context())
			if err != nil {
				return err
			}
			if diff.Empty() {
				deps.Logger.Info("Schemas match")
				return nil
			}
			renderDiff(diff)
			return nil
		},
	}
}

func migrateCommand() *cobra.Command {
	var opts dbman.RunOptions
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database to the declared schema",
		Long: `Migrate rebuilds the database to match the declared schema, carrying
surviving data over. Renames come from the db.renames file named in the
args file. Without --write-db the migration is a dry run against a backup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			return manager.Migrate(cmd.Context(), opts)
		},
	}
	addRunFlags(cmd, &opts)
	return cmd
}

func recreateCommand() *cobra.Command {
	var opts dbman.RunOptions
	cmd := &cobra.Command{
		Use:   "recreate",
		Short: "Drop and recreate all tables, losing all data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			return manager.Recreate(cmd.Context(), opts)
		},
	}
	addRunFlags(cmd, &opts)
	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *dbman.RunOptions) {
	cmd.Flags().BoolVar(&opts.Backup, "backup", false,
		"back up the database file before the operation")
	cmd.Flags().BoolVar(&opts.WriteDB, "write-db", false,
		"apply the operation for real instead of a dry run")
}

func renderSchema(title string, schema map[string]map[string]string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Table", "Column", "Type"})

	for _, tableName := range sortedKeys(schema) {
		for _, column := range sortedKeys(schema[tableName]) {
			t.AppendRow(table.Row{tableName, column, schema[tableName][column]})
		}
		t.AppendSeparator()
	}
	t.Render()
}

func renderDiff(diff *dbman.Diff) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Schema diff")
	t.AppendHeader(table.Row{"Change", "Table", "Detail"})

	for _, tableName := range diff.RemovedTables {
		t.AppendRow(table.Row{"removed table", tableName, ""})
	}
	for _, tableName := range sortedKeys(diff.RemovedColumns) {
		for _, column := range diff.RemovedColumns[tableName] {
			t.AppendRow(table.Row{"removed column", tableName, column})
		}
	}
	for _, tableName := range diff.AddedTables {
		t.AppendRow(table.Row{"added table", tableName, ""})
	}
	for _, tableName := range sortedKeys(diff.AddedColumns) {
		for _, column := range diff.AddedColumns[tableName] {
			t.AppendRow(table.Row{"added column", tableName, column})
		}
	}
	for _, tableName := range sortedKeys(diff.ChangedColumns) {
		for _, column := range sortedKeys(diff.ChangedColumns[tableName]) {
			t.AppendRow(table.Row{"changed column", tableName,
				fmt.Sprintf("%s: %s", column, diff.ChangedColumns[tableName][column])})
		}
	}
	for _, tableName := range sortedKeys(diff.RenamedTables) {
		t.AppendRow(table.Row{"renamed table", tableName, "-> " + diff.RenamedTables[tableName]})
	}
	for _, tableName := range sortedKeys(diff.RenamedColumns) {
		for _, column := range sortedKeys(diff.RenamedColumns[tableName]) {
			t.AppendRow(table.Row{"renamed column", tableName,
				fmt.Sprintf("%s -> %s", column, diff.RenamedColumns[tableName][column])})
		}
	}
	t.Render()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
