// Package main provides the keyserv administration CLI. It talks to
// the database directly, so it can be used without the HTTP server
// running.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mkserv/keyserv/internal/db"
	"github.com/mkserv/keyserv/internal/keys"
	"github.com/mkserv/keyserv/internal/models"
	"github.com/mkserv/keyserv/internal/uid"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// env carries the shared dependencies opened once per invocation.
type env struct {
	database *db.DB
	svc      *keys.Service
	logger   zerolog.Logger
}

func openEnv(ctx context.Context, dbURL string, verbose bool) (*env, error) {
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("database URL required: use --db or set DATABASE_URL")
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if !verbose {
		logger = logger.Level(zerolog.WarnLevel)
	}

	cfg := db.DefaultConfig(dbURL)
	cfg.MaxConns = 5
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &env{
		database: database,
		svc:      keys.New(database, nil, nil, logger),
		logger:   logger,
	}, nil
}

func newRootCmd() *cobra.Command {
	var (
		dbURL   string
		verbose bool
	)

	rootCmd := &cobra.Command{
		Use:           "keyserv-admin",
		Short:         "Administer keyserv applications and license keys",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "database URL (or set DATABASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(
		newCreateAppCmd(&dbURL, &verbose),
		newListAppsCmd(&dbURL, &verbose),
		newIssueKeyCmd(&dbURL, &verbose),
		newShowKeyCmd(&dbURL, &verbose),
		newToggleKeyCmd(&dbURL, &verbose, false),
		newToggleKeyCmd(&dbURL, &verbose, true),
	)
	return rootCmd
}

func newCreateAppCmd(dbURL *string, verbose *bool) *cobra.Command {
	var supportMessage string

	cmd := &cobra.Command{
		Use:   "create-app <name>",
		Short: "Register a new application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, *dbURL, *verbose)
			if err != nil {
				return err
			}
			defer e.database.Close()

			app, err := e.svc.CreateApplication(ctx, args[0], supportMessage)
			if err != nil {
				return err
			}

			fmt.Printf("Application registered\n  id:   %s\n  name: %s\n", app.PublicID, app.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&supportMessage, "support-message", "", "text shown to end users on rejected activations")
	return cmd
}

func newListAppsCmd(dbURL *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list-apps",
		Short: "List registered applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, *dbURL, *verbose)
			if err != nil {
				return err
			}
			defer e.database.Close()

			apps, err := e.database.ListApplications(ctx)
			if err != nil {
				return err
			}
			if len(apps) == 0 {
				fmt.Println("No applications registered")
				return nil
			}
			for _, app := range apps {
				fmt.Printf("%s  %s\n", app.PublicID, app.Name)
			}
			return nil
		},
	}
}

func newIssueKeyCmd(dbURL *string, verbose *bool) *cobra.Command {
	var (
		token     string
		remaining int
		expires   string
		hwid      string
		memo      string
	)

	cmd := &cobra.Command{
		Use:   "issue-key <app-id>",
		Short: "Issue a new license key for an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			appID, err := uid.ToID(args[0])
			if err != nil {
				return fmt.Errorf("invalid application id: %w", err)
			}

			e, err := openEnv(ctx, *dbURL, *verbose)
			if err != nil {
				return err
			}
			defer e.database.Close()

			key, err := e.svc.CreateKey(ctx, appID, keys.CreateKeyParams{
				Token:      token,
				Remaining:  remaining,
				ExpirySpec: expires,
				HWID:       hwid,
				Memo:       memo,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Key issued\n  id:          %s\n  token:       %s\n  remaining:   %s\n  valid until: %s\n",
				key.PublicID, key.Token, remainingString(key.Remaining), key.ValidUntil.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "explicit token (random when omitted)")
	cmd.Flags().IntVar(&remaining, "remaining", 1, "activation budget, -1 for unlimited")
	cmd.Flags().StringVar(&expires, "expires", "30", "day count or absolute date (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&hwid, "hwid", "", "pre-bind to a hardware identifier")
	cmd.Flags().StringVar(&memo, "memo", "", "operator note")
	return cmd
}

func newShowKeyCmd(dbURL *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "show-key <key-id>",
		Short: "Show a key's state and counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			keyID, err := uid.ToID(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id: %w", err)
			}

			e, err := openEnv(ctx, *dbURL, *verbose)
			if err != nil {
				return err
			}
			defer e.database.Close()

			key, err := e.database.GetKeyByID(ctx, keyID)
			if err != nil {
				return err
			}
			if key == nil {
				return keys.ErrNotFound
			}

			now := time.Now().UTC()
			fmt.Printf("%s\n", key)
			fmt.Printf("  id:          %s\n", key.PublicID)
			fmt.Printf("  status:      %s\n", key.Status(now))
			fmt.Printf("  remaining:   %s\n", remainingString(key.Remaining))
			fmt.Printf("  activations: %d\n", key.TotalActivations)
			fmt.Printf("  checks:      %d\n", key.TotalChecks)
			if key.HWID != "" {
				fmt.Printf("  hwid:        %s\n", key.HWID)
			}
			if key.Memo != "" {
				fmt.Printf("  memo:        %s\n", key.Memo)
			}
			return nil
		},
	}
}

func newToggleKeyCmd(dbURL *string, verbose *bool, enable bool) *cobra.Command {
	use, short := "disable-key <key-id>", "Engage the kill-switch on a key"
	if enable {
		use, short = "enable-key <key-id>", "Release the kill-switch on a key"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			keyID, err := uid.ToID(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id: %w", err)
			}

			e, err := openEnv(ctx, *dbURL, *verbose)
			if err != nil {
				return err
			}
			defer e.database.Close()

			key, err := e.svc.SetKeyEnabled(ctx, keyID, enable)
			if err != nil {
				return err
			}

			state := "disabled"
			if key.Enabled {
				state = "enabled"
			}
			fmt.Printf("Key %s is now %s\n", key.PublicID, state)
			return nil
		},
	}
}

func remainingString(remaining int) string {
	if remaining == models.UnlimitedActivations {
		return "unlimited"
	}
	return fmt.Sprintf("%d", remaining)
}
