package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"safeworks.org/ptw/internal/config"
	"safeworks.org/ptw/internal/migrate"
	"safeworks.org/ptw/internal/obs"
)

type rootOptions struct {
	dsn     string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the permit-to-work database schema and reference data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			obs.SetLevel(cfg.LogLevel)
			if opts.dsn == "" {
				opts.dsn = cfg.Database.DSN
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (defaults to PTW_PG_DSN)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute, "overall command timeout")

	cmd.AddCommand(
		newUpCmd(opts),
		newDownCmd(opts),
		newStatusCmd(opts),
		newSeedCmd(opts),
		newCreateAdminCmd(opts),
	)
	return cmd
}

// withDB opens the database for the length of one command.
func (o *rootOptions) withDB(cmd *cobra.Command, fn func(ctx context.Context, db *sql.DB) error) error {
	if o.dsn == "" {
		return errors.New("missing DSN: provide --dsn or PTW_PG_DSN")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	db, err := sql.Open("pgx", o.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return fn(ctx, db)
}

func newUpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				applied, err := migrate.NewManager(db).Up(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					cmd.Println("schema is up to date")
				}
				for _, name := range applied {
					cmd.Println("applied", name)
				}
				return nil
			})
		},
	}
}

func newDownCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				name, err := migrate.NewManager(db).Down(ctx)
				if err != nil {
					return err
				}
				if name == "" {
					cmd.Println("nothing to roll back")
					return nil
				}
				cmd.Println("rolled back", name)
				return nil
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				entries, err := migrate.NewManager(db).Status(ctx)
				if err != nil {
					return err
				}
				for _, e := range entries {
					state := "pending"
					if e.Applied {
						state = "applied " + e.AppliedAt.UTC().Format(time.RFC3339)
					}
					cmd.Printf("%05d  %-32s %s\n", e.Version, e.Name, state)
				}
				return nil
			})
		},
	}
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load reference data (sites, vendors)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				applied, err := migrate.NewManager(db).Seed(ctx)
				if err != nil {
					return err
				}
				for _, name := range applied {
					cmd.Println("seeded", name)
				}
				return nil
			})
		},
	}
}
