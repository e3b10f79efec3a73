// Package main provides a CLI tool for running database migrations.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/sasha9954/photostudio-core/internal/config"
	"github.com/sasha9954/photostudio-core/internal/storage"
)

func main() {
	action := flag.String("action", "up", "Migration action: up, down, version")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := runMigrations(&cfg.Database, *action); err != nil {
		log.Fatalf("%s migration failed: %v", cfg.Database.Driver, err)
	}
}

func runMigrations(cfg *config.DatabaseConfig, action string) error {
	driver := cfg.Driver
	databaseURL := storage.DatabaseURL(cfg)

	switch action {
	case "up":
		log.Printf("Running %s migrations...", driver)
		if err := storage.RunMigrations(driver, databaseURL); err != nil {
			return err
		}
		log.Printf("%s migrations completed successfully", driver)

	case "down":
		log.Printf("Rolling back %s migration...", driver)
		if err := storage.RollbackMigrations(driver, databaseURL); err != nil {
			return err
		}
		log.Printf("%s migration rolled back successfully", driver)

	case "version":
		version, dirty, err := storage.MigrationVersion(driver, databaseURL)
		if err != nil {
			return err
		}
		log.Printf("Current %s migration version: %d (dirty: %v)", driver, version, dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}
