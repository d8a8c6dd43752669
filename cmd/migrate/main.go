package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ignite/mail-aggregator/internal/config"
	"github.com/ignite/mail-aggregator/internal/store"
)

// Applies the schema to the configured database and exits. Useful for
// preparing a Postgres instance before the server is deployed. With
// --list it prints the tables that exist instead of migrating.
func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		}
	}

	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.DB().PingContext(ctx); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Printf("Connected to database (driver: %s)", st.Driver())

	if listOnly {
		query := `SELECT tablename FROM pg_tables WHERE schemaname='public' ORDER BY tablename`
		if st.IsSQLite() {
			query = `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
		}
		rows, err := st.DB().QueryContext(ctx, query)
		if err != nil {
			log.Fatal(err)
		}
		defer rows.Close()
		n := 0
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				log.Fatal(err)
			}
			fmt.Println(" ", t)
			n++
		}
		if err := rows.Err(); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Total: %d tables\n", n)
		return
	}

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("Schema is up to date")
}
