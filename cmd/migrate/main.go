package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/logger"
)

func main() {
	var migrationDir string
	flag.StringVar(&migrationDir, "path", "migrations", "Directory holding the *.up.sql/*.down.sql files")
	flag.Usage = printUsage
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "migrate")

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	m, err := migrate.New("file://"+migrationDir, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("path", migrationDir).Msg("Failed to initialize migrations")
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("Failed to close migrator")
		}
	}()

	switch cmd := args[0]; cmd {
	case "up":
		err = noChange(m.Up())
	case "down":
		// Rolls back one step; "drop everything" is `steps -N`.
		err = noChange(m.Steps(-1))
	case "steps":
		n, convErr := intArg(args, "steps")
		if convErr != nil {
			log.Fatal().Err(convErr).Send()
		}
		err = noChange(m.Steps(n))
	case "goto":
		v, convErr := intArg(args, "goto")
		if convErr != nil || v < 0 {
			log.Fatal().Err(convErr).Msg("goto requires a non-negative version")
		}
		err = noChange(m.Migrate(uint(v)))
	case "force":
		v, convErr := intArg(args, "force")
		if convErr != nil {
			log.Fatal().Err(convErr).Send()
		}
		err = m.Force(v)
	case "version":
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Migration failed")
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info().Str("command", args[0]).Msg("No migrations applied")
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to read schema version")
	default:
		log.Info().Str("command", args[0]).Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
	}
}

func noChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func intArg(args []string, cmd string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s requires a numeric argument", cmd)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("parse %s argument %q: %w", cmd, args[1], err)
	}
	return n, nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [flags] <command>")
	fmt.Fprintln(os.Stderr, "Commands: up, down, steps <n>, goto <version>, force <version>, version")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}
