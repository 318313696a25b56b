package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Ning0612/submitguard/internal/progress"
	"github.com/Ning0612/submitguard/internal/service"
	"github.com/Ning0612/submitguard/internal/transport"
)

var (
	zipOutput     string
	zipWithTarget bool
)

var zipCmd = &cobra.Command{
	Use:   "zip [tree]",
	Short: "Export a protected archive of a tree",
	Long: `Exports a protected archive of a tree. The working tree is left untouched.

Students must have an identity configured; the archive is named after their user id.
Administrators export a template named after the tree. With --with-target the
template records the configured submission server and pool.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}

		s, cleanup := startSpinner("Exporting " + root)
		defer cleanup()

		a, err := newApp(spinnerReporter(s))
		if err != nil {
			return fail(s, "Failed to load configuration", err)
		}
		defer a.Close()

		dest := zipOutput
		if dest == "" {
			actor, _ := a.gate.Actor()
			cwd, err := os.Getwd()
			if err != nil {
				return fail(s, "Failed to resolve the output directory", err)
			}
			dest = filepath.Join(cwd, a.export.ArchiveName(root, actor)+".zip")
		}
		if dest, err = filepath.Abs(dest); err != nil {
			return fail(s, "Invalid output path", err)
		}

		result, err := a.export.ExportFile(cmd.Context(), root, dest, service.ExportOptions{IncludeTarget: zipWithTarget})
		if err != nil {
			return fail(s, "Failed to export "+root, err)
		}

		s.FinalMSG = success(fmt.Sprintf("Exported %d file(s) to %s (%s)\n  sha256 %s",
			result.Stats.Files, color.YellowString(dest), progress.FormatBytes(result.Size), result.SHA256))
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit [tree]",
	Short: "Export a tree and upload it to the submission server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}

		s, cleanup := startSpinner("Submitting " + root)
		defer cleanup()

		a, err := newApp(spinnerReporter(s))
		if err != nil {
			return fail(s, "Failed to load configuration", err)
		}
		defer a.Close()

		result, err := a.submit.Submit(cmd.Context(), root)
		if err != nil {
			return fail(s, "Failed to submit "+root, err)
		}
		if result.Result != transport.ResultSuccess {
			return fail(s, result.Result.String(), fmt.Errorf("upload of %s rejected", result.Export.Name))
		}

		detail := fmt.Sprintf(" %s to pool %s, sha256 %s",
			color.YellowString(result.Export.Name), result.Export.PoolID, result.Export.SHA256)
		s.FinalMSG = success(result.Result.String()) + "\n" + color.CyanString("→") + detail
		return nil
	},
}

func init() {
	zipCmd.Flags().StringVarP(&zipOutput, "output", "o", "", "archive path (default: <name>.zip in the working directory)")
	zipCmd.Flags().BoolVar(&zipWithTarget, "with-target", false, "record the configured server and pool in an administrator template")
}
