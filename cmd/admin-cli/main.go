// Command admin-cli is the out-of-band administrative utility that
// creates and rotates Credential Store rows. It is never invoked by
// request handlers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/sys3222/akshare-mcp-adapter/internal/auth"
	"github.com/sys3222/akshare-mcp-adapter/internal/config"
)

func main() {
	createCmd := flag.NewFlagSet("create-user", flag.ExitOnError)
	username := createCmd.String("username", "", "username to create or rotate")
	password := createCmd.String("password", "", "new password")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: admin-cli create-user --username=U --password=P")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "create-user":
		createCmd.Parse(os.Args[2:])
		if *username == "" || *password == "" {
			fmt.Fprintln(os.Stderr, "--username and --password are required")
			os.Exit(1)
		}
		if err := createUser(*username, *password); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		fmt.Printf("user %q created/updated\n", *username)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(1)
	}
}

func createUser(username, password string) error {
	cfg := config.Load()

	db, err := auth.OpenDatabase(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	store := auth.NewCredentialStore(db)
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash`,
		username, hash)
	return err
}
