// Package cmd implements the command-line interface for datamastor. It
// provides the root command and subcommands for crawling, storing, and
// managing scraped shop data.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datamastor/datamastor/cmd/crawl"
	cmddb "github.com/datamastor/datamastor/cmd/db"
	"github.com/datamastor/datamastor/cmd/httpd"
	"github.com/datamastor/datamastor/cmd/pipeline"
	"github.com/datamastor/datamastor/cmd/schedule"
	"github.com/datamastor/datamastor/cmd/spiders"
	"github.com/datamastor/datamastor/internal/config"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// argsFile holds the path to the YAML args-overlay file.
	argsFile string

	// noArgsFile disables the YAML args overlay.
	noArgsFile bool

	// Debug enables debug mode for all commands.
	Debug bool

	// crawlCmd is kept so spider subcommands can be attached once the
	// registry location is known.
	crawlCmd = crawl.Command()

	// rootCmd represents the root command for the datamastor CLI.
	rootCmd = &cobra.Command{
		Use:   "dm",
		Short: "Scrape shops and master the data",
		Long: `datamastor crawls shop category trees and listing pages, stores the
scraped data in SQLite, and manages the schema as the data model evolves.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment variables are available to viper.
	_ = godotenv.Load()

	// Parse flags early so --config and --args are known before viper runs.
	_ = rootCmd.ParseFlags(os.Args[1:])

	if err := initConfig(); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// Spider subcommands come from the registry, whose location is part of
	// the configuration.
	crawl.AddSpiderCommands(crawlCmd, viper.GetString("crawler.info_file"))

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&argsFile, "args", "",
		fmt.Sprintf("YAML args file (default is ./%s)", config.DefaultArgsFile))
	rootCmd.PersistentFlags().BoolVar(&noArgsFile, "no-args-file", false,
		"disable the YAML args overlay")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug mode")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("datamastor version %s\n", "1.0.0")
		},
	})

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(spiders.Command())
	rootCmd.AddCommand(cmddb.Command())
	rootCmd.AddCommand(pipeline.Command())
	rootCmd.AddCommand(schedule.Command())
	rootCmd.AddCommand(httpd.Command())
}

// initConfig reads the config file and environment variables into viper.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	config.SetDefaults()

	// The config file is optional; defaults and environment variables carry
	// a fileless setup.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: config file not loaded: %v\n", err)
		}
	}

	if err := bindCommandLineFlags(); err != nil {
		return err
	}
	if err := bindAppEnvVars(); err != nil {
		return err
	}

	if Debug {
		viper.Set("app.debug", true)
		viper.Set("logger.level", "debug")
		viper.Set("logger.development", true)
		viper.Set("logger.encoding", "console")
	}
	return nil
}

// bindCommandLineFlags binds command-line flags to viper.
func bindCommandLineFlags() error {
	if err := viper.BindPFlag("app.debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("failed to bind debug flag: %w", err)
	}
	if err := viper.BindPFlag("args.disabled", rootCmd.PersistentFlags().Lookup("no-args-file")); err != nil {
		return fmt.Errorf("failed to bind no-args-file flag: %w", err)
	}
	if argsFile != "" {
		viper.Set("args.file", argsFile)
	}
	return nil
}

// bindAppEnvVars binds application and logger environment variables to
// config keys.
func bindAppEnvVars() error {
	if err := viper.BindEnv("app.environment", "APP_ENV"); err != nil {
		return fmt.Errorf("failed to bind APP_ENV: %w", err)
	}
	if err := viper.BindEnv("logger.level", "LOG_LEVEL"); err != nil {
		return fmt.Errorf("failed to bind LOG_LEVEL: %w", err)
	}
	if err := viper.BindEnv("logger.encoding", "LOG_FORMAT"); err != nil {
		return fmt.Errorf("failed to bind LOG_FORMAT: %w", err)
	}
	if err := viper.BindEnv("database.path", "DM_DATABASE_PATH"); err != nil {
		return fmt.Errorf("failed to bind DM_DATABASE_PATH: %w", err)
	}
	return nil
}
