// Package common provides shared utilities for command implementations.
package common

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/datamastor/datamastor/internal/cliargs"
	"github.com/datamastor/datamastor/internal/config"
	"github.com/datamastor/datamastor/internal/logger"
	"github.com/datamastor/datamastor/internal/storage"
)

// CommandDeps holds common dependencies for all commands.
// Use this instead of context.Value for type-safe dependency injection.
type CommandDeps struct {
	Logger logger.Interface
	Config config.Interface
	Args   *cliargs.Resolver
}

// Validate ensures all required dependencies are present.
func (d CommandDeps) Validate() error {
	if d.Logger == nil {
		return ErrLoggerRequired
	}
	if d.Config == nil {
		return ErrConfigRequired
	}
	return nil
}

// NewCommandDeps builds the dependencies every command starts from: the
// loaded configuration, a logger configured from it, and the args-file
// resolver.
func NewCommandDeps() (CommandDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return CommandDeps{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.GetLoggerConfig())
	if err != nil {
		return CommandDeps{}, fmt.Errorf("failed to create logger: %w", err)
	}

	argsCfg := cfg.GetArgsConfig()
	resolver := cliargs.NewResolver(argsCfg.File, argsCfg.Disabled, log)

	deps := CommandDeps{Logger: log, Config: cfg, Args: resolver}
	if err := deps.Validate(); err != nil {
		return CommandDeps{}, err
	}
	return deps, nil
}

// OpenDatabase opens the configured SQLite database.
func (d CommandDeps) OpenDatabase() (*sqlx.DB, error) {
	path := d.Config.GetDatabaseConfig().Path
	db, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", path, err)
	}
	return db, nil
}
