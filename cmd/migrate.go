package cmd

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Create or upgrade the prboard schema in the configured database.

Other commands migrate on first use; this is for provisioning a database
ahead of the first deploy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return migrateRun()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrateRun() error {
	if ui.DryRun {
		ui.DryRunMsg("Would migrate %s database", storeConfig().Driver)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ui.Success("Database schema up to date (%s)", s.Dialect())
	return nil
}
