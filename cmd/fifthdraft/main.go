package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor bool
	asUser  string
)

var rootCmd = &cobra.Command{
	Use:           "fifthdraft",
	Short:         "Turn spoken transcripts into structured, researched notes",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&asUser, "user", "", "act as this user id (default: server default)")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, mcpCmd)
	rootCmd.AddCommand(noteCmd, structureCmd, researchCmd, mindmapCmd, relatedCmd, briefCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

