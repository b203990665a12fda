package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	user := env.GetEnv("DB_USER", "kassenwart")
	host := env.GetEnv("DB_HOST", "db")
	port := env.GetEnv("DB_PORT", "3306")
	name := env.GetEnv("DB_NAME", "kassenwart_db")

	// golang-migrate's mysql driver takes the go-sql-driver DSN after the scheme.
	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true&parseTime=true",
		user, env.GetEnv("DB_PASSWORD", "kassenwart"), host, port, name)
	log.Infof("[Migrate] connecting to %s@%s:%s/%s", user, host, port, name)

	m, err := migrate.New("file://"+env.GetEnv("MIGRATIONS_PATH", "migrations"), dbURL)
	if err != nil {
		log.Fatalf("[Migrate] init failed: %v", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Warnf("[Migrate] close: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		report(m.Up(), "all pending migrations applied")

	case "down":
		report(m.Steps(-1), "last migration rolled back")

	case "goto", "force":
		if len(os.Args) < 3 {
			log.Fatalf("[Migrate] %s needs a version number", command)
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("[Migrate] invalid version %q: %v", os.Args[2], err)
		}
		if command == "force" {
			// Clears the dirty flag after a half-applied migration was fixed by hand.
			report(m.Force(int(version)), fmt.Sprintf("version forced to %d", version))
		} else {
			report(m.Migrate(uint(version)), fmt.Sprintf("migrated to version %d", version))
		}

	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			log.Info("[Migrate] no migrations applied yet")
		case err != nil:
			log.Fatalf("[Migrate] could not read version: %v", err)
		case dirty:
			log.Warnf("[Migrate] version %d (dirty)", version)
		default:
			log.Infof("[Migrate] version %d", version)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func report(err error, success string) {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info("[Migrate] no change: schema is up to date")
	case err != nil:
		log.Fatalf("[Migrate] %v", err)
	default:
		log.Infof("[Migrate] %s", success)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up      - apply all pending migrations")
	fmt.Println("  down    - roll back the last migration")
	fmt.Println("  goto N  - migrate to version N")
	fmt.Println("  force N - set version N without running migrations")
	fmt.Println("  status  - show the current version")
}
