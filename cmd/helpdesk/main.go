package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "helpdesk",
	Short: "Help-desk console: knowledge base, model integrations and conversations",
	Long: `helpdesk runs the help-desk console API and talks to it from the terminal.

Start the server with "helpdesk serve", then manage the knowledge base,
model integrations, customer conversations and chatbot sessions with the
subcommands below.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.Version = version

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(docsCmd, modelsCmd, conversationsCmd, widgetCmd)
	rootCmd.AddCommand(notificationsCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
