// Package main provides the database migration CLI.
//
// Usage:
//
//	migrate up       run all pending migrations
//	migrate down     roll back the last migration
//	migrate status   print migration status
//	migrate version  print the current schema version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/zap"

	"github.com/giftwell/giftwell/internal/config"
	"github.com/giftwell/giftwell/internal/migrate"
)

func main() {
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.NewConfig(slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()

	sqldb, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer sqldb.Close()

	db := bun.NewDB(sqldb, pgdialect.New())
	migrator := migrate.NewMigrator(db, zlog)

	ctx := context.Background()
	switch command {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		err = migrator.Down(ctx)
	case "status":
		err = migrator.Status(ctx)
	case "version":
		var version int64
		version, err = migrator.Version(ctx)
		if err == nil {
			fmt.Printf("schema version: %d\n", version)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want up, down, status or version)\n", command)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", command, err)
		os.Exit(1)
	}
}
