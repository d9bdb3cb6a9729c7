package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/klapom/aegisrag/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate 解析迁移参数后交给 migration.CLI 分发子命令
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		return
	}

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	// 子命令及其位置参数在前，选项在后
	sub, rest := splitSubcommand(args)
	if err := fs.Parse(rest); err != nil {
		os.Exit(1)
	}
	sub = append(sub, fs.Args()...)

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migration.NewCLI(migrator).Run(context.Background(), sub); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// splitSubcommand 在第一个选项处切分，负数（steps -1）不算选项
func splitSubcommand(args []string) (sub, rest []string) {
	for i, a := range args {
		if len(a) > 1 && a[0] == '-' && (a[1] < '0' || a[1] > '9') {
			return append([]string(nil), args[:i]...), args[i:]
		}
	}
	return append([]string(nil), args...), nil
}

// createMigrator db-type 与 db-url 同时给出时直接使用，否则读取配置
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	logger := zap.NewNop()

	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}

	cfg, err := loadConfig(configPath, ".env")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  aegisrag migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down [all]  Rollback the last migration (or all)
  steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show migration summary
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  aegisrag migrate up
  aegisrag migrate up --config /etc/aegisrag/config.yaml
  aegisrag migrate down
  aegisrag migrate status
  aegisrag migrate goto 1`)
}
