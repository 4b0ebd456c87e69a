// Command migrate applies or rolls back the AuthHub schema.
//
//	migrate [-dsn DSN] [-dir DIR] up|down|status
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"authhub/internal/config"
	"authhub/internal/migrate"
	"authhub/internal/store/pg"
)

type migrateEnv struct {
	DSN string `env:"AUTHHUB_PG_DSN"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var envCfg migrateEnv
	if err := config.ParseEnv(&envCfg); err != nil {
		return err
	}

	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dsn := flags.String("dsn", envCfg.DSN, "PostgreSQL DSN (defaults to AUTHHUB_PG_DSN)")
	dir := flags.String("dir", "", "directory with *.up.sql / *.down.sql files (defaults to the embedded schema)")
	timeout := flags.Duration("timeout", 30*time.Second, "overall timeout")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *dsn == "" {
		return fmt.Errorf("missing DSN: provide -dsn or AUTHHUB_PG_DSN")
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: migrate [flags] up|down|status")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	var files fs.FS
	if *dir != "" {
		files = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(store.DB(), files)

	switch cmd := flags.Arg(0); cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
		if err != nil {
			return fmt.Errorf("up: %w", err)
		}
		if len(applied) == 0 {
			fmt.Println("schema is up to date")
		}
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return fmt.Errorf("down: %w", err)
		}
		fmt.Println("rolled back", name)
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
