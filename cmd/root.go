package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "keyshift",
	Short: "KeyShift prepares remote songs for pitch-shifted playback.",
	Long: `KeyShift downloads a song once, estimates its musical key and serves the
cached audio with byte-range support so a browser player can seek and transpose it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
	SilenceUsage: true,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
