package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mailbrief application
var rootCmd = &cobra.Command{
	Use:   "mailbrief",
	Short: "Session broker and analysis gateway for Gmail",
	Long: `mailbrief is a backend service that signs users in with Google,
keeps their OAuth tokens server-side, and serves their recent Gmail
messages enriched with generated summaries, action items, sentiment
and document type.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailbrief version %s\n" .Version}}`)

	// Serving is the only job this binary has.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("mailbrief version %s\n", version)
		},
	}
}
