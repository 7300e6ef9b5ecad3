package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mergegate/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := d.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("refusing to drop all attempt history without --yes")
		}
		d, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := d.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database reset.")
		return nil
	},
}

// openDB opens the configured database without migrating it.
func openDB(cmd *cobra.Command) (*db.DB, func(), error) {
	env, err := loadEnv()
	if err != nil {
		return nil, nil, err
	}
	if env.DatabaseURL == "" {
		return nil, nil, errors.New("no database configured: set MERGEGATE_DATABASE_URL")
	}
	d, err := db.Open(cmd.Context(), env.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return d, d.Close, nil
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm dropping all tables")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
