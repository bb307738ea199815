package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var shellFlag string

// completionsCmd emits a shell completion script by shelling out to
// cobra's own generators, the same reliance the teacher's
// cmd/bd/completions.go documents. No hand-rolled script template.
var completionsCmd = &cobra.Command{
	Use:   "completions",
	Short: "Emit a shell completion script to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch shellFlag {
		case "bash":
			return rootCmd.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		default:
			return fmt.Errorf("completions: unsupported --shell %q (want bash, zsh, fish, or powershell)", shellFlag)
		}
	},
}

func init() {
	completionsCmd.Flags().StringVar(&shellFlag, "shell", "", "shell to generate a completion script for (bash, zsh, fish, powershell)")
	_ = completionsCmd.MarkFlagRequired("shell")
	rootCmd.AddCommand(completionsCmd)
}
