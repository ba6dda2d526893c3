package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and seed investigator types",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("schema ready",
			zap.String("driver", cfg.Store.Driver),
			zap.Int("types", len(env.Registry.Catalog().List())),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
