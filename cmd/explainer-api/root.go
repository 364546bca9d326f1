package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "explainer-api",
	Short: "Explainer video pipeline service",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			return godotenv.Load(envFile)
		}
		// A missing default .env is fine; configuration falls back to the
		// process environment.
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)

	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", "", "Path to an env file with configuration overrides")
}
