package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"turnstile.app/internal/migrate"
	"turnstile.app/migrations"
)

func main() {
	log.SetFlags(0)
	var (
		dsn   = pflag.String("dsn", os.Getenv("TURNSTILE_PG_DSN"), "PostgreSQL DSN")
		table = pflag.String("table", "", "bookkeeping table (default schema_migrations)")
	)
	pflag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or TURNSTILE_PG_DSN")
	}
	if pflag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrations.FS, migrate.WithMigrationsTable(*table))

	switch pflag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var name string
		if name, err = mgr.Down(ctx); err == nil {
			fmt.Println("rolled back", name)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		log.Fatalf("unknown command %q", pflag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", pflag.Arg(0), err)
	}
}
