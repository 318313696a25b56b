package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "submitguard",
	Short: "Submitguard - protects course project trees between working sessions.",
	Long: `Submitguard keeps the sources of a course project encrypted while nobody works on them,
records what happens during a working session, and packages the tree for submission.

Usage:
  submitguard <command> [flags]

Available Commands:
  open       Decrypt a protected tree and start a session
  close      Record the end of a session and protect the tree again
  watch      Keep trees open and record activity until interrupted
  zip        Export a protected archive of a tree
  submit     Export a tree and upload it to the submission server
  status     Show managed trees, recent sessions and the watcher

Run 'submitguard help <command>' for more details on a specific command.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: search the standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(zipCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(identityCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}
