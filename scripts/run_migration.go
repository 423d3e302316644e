package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/marketedge/qtrader/internal/config"
	"github.com/marketedge/qtrader/internal/storage"
)

func main() {
	dbURL := flag.String("db", "", "database URL (defaults to DATABASE_URL)")
	migrationFile := flag.String("file", "", "extra SQL file to run after the embedded schema (optional)")
	flag.Parse()

	url := *dbURL
	if url == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("no -db given and failed to load config: %v", err)
		}
		url = cfg.DatabaseURL
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, url)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	fmt.Println("Connected to database")
	fmt.Println("Applying embedded schema")
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}
	fmt.Println("✓ Schema applied successfully")

	if *migrationFile == "" {
		return
	}

	sqlBytes, err := os.ReadFile(*migrationFile)
	if err != nil {
		log.Fatalf("failed to read migration file: %v", err)
	}

	fmt.Printf("Running extra migration: %s\n", filepath.Base(*migrationFile))
	if err := store.Exec(ctx, string(sqlBytes)); err != nil {
		log.Fatalf("failed to execute migration: %v", err)
	}
	fmt.Println("✓ Migration applied successfully")
}
