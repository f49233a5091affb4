package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/prabath1998/event-ticketing-web-backend/internal/config"
	"github.com/prabath1998/event-ticketing-web-backend/internal/database"
	"github.com/prabath1998/event-ticketing-web-backend/internal/database/migrations"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	var dir string
	var dsn string

	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&dir, "dir", "", "migrations directory (default: $MIGRATIONS_DIR or ./migrations)")
	flagSet.StringVar(&dsn, "dsn", "", "postgres DSN (default: $POSTGRES_DSN)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(argv); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return fmt.Errorf("missing command")
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dsn != "" {
		cfg.Database.DSN = dsn
	}
	if dir != "" {
		cfg.Database.MigrationsDir = dir
	}
	cfg.Database.Driver = "postgres"

	log := logger.NewLogger("migrate")
	defer log.Close()

	bunDB, err := database.Open(context.Background(), cfg.Database, log)
	if err != nil {
		return err
	}

	opts := migrations.DefaultOptions()
	opts.MigrationsDir = cfg.Database.MigrationsDir
	runner := migrations.NewRunner(bunDB, opts, log)
	// Closes bunDB too.
	defer runner.Close()

	switch args[0] {
	case "up":
		return runner.RunMigrations()
	case "seed":
		return runner.MigrateUp()
	case "down":
		return runner.MigrateDown()
	case "to":
		if len(args) < 2 {
			return fmt.Errorf("usage: migrate to <version>")
		}
		version, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return runner.MigrateTo(uint(version))
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Schema migrations for the ticketing database.

Usage:
  migrate [flags] <command>

Commands:
  up            apply schema migrations only
  seed          apply every migration, demo data included
  down          roll back every migration
  to <version>  migrate up or down to a version
  version       print the applied version

Flags:
%s`, flagSet.FlagUsages())
}
