package main

import (
	"context"
	"database/sql"
	"errors"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"safeworks.org/ptw/internal/auth"
	"safeworks.org/ptw/internal/directory"
	"safeworks.org/ptw/internal/store/pg"
)

func newCreateAdminCmd(opts *rootOptions) *cobra.Command {
	var in directory.NewUser
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the first Admin account",
		Long:  "Create an Admin user. The password is read from PTW_ADMIN_PASSWORD when --password is not given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				in.Password = os.Getenv("PTW_ADMIN_PASSWORD")
			}
			if in.Password == "" {
				return errors.New("password is required: use --password or PTW_ADMIN_PASSWORD")
			}
			in.Role = auth.RoleAdmin
			return opts.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				store := pg.New(sqlx.NewDb(db, "pgx"))
				u, err := directory.NewService(store.Directory(), nil).CreateUser(ctx, in)
				if err != nil {
					return err
				}
				cmd.Printf("created admin %s (id %d)\n", u.LoginID, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.LoginID, "login", "admin", "login id")
	cmd.Flags().StringVar(&in.Name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
