package main

import (
	"github.com/lewtec/pungyeong/internal/repository"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the raw_image table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		db, dialect, err := openDatabase(cmd.Context(), config)
		if err != nil {
			return err
		}
		defer db.Close()
		return repository.Migrate(db, dialect, config.Database.URL)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
