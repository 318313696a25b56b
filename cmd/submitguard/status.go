package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Ning0612/submitguard/internal/daemon"
	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/state"
)

var historyLimit int

var statusCmd = &cobra.Command{
	Use:   "status [tree]",
	Short: "Show managed trees, recent sessions and the watcher",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		var root string
		if len(args) > 0 {
			if root, err = resolveRoot(args); err != nil {
				return err
			}
		}

		actor, err := a.gate.Actor()
		if err != nil {
			fmt.Println(color.YellowString("!") + " Secret store unavailable: " + err.Error())
		}
		fmt.Printf("Role: %s\n", actor)
		if a.cfg.HasIdentity() {
			fmt.Printf("Identity: %s (%s)\n", a.cfg.Identity.FullName, a.cfg.Identity.UserID)
		} else {
			fmt.Println("Identity: " + color.YellowString("not configured"))
		}

		printWatcher(a.cfg.Settings.StateDir)

		managed, err := a.project.ManagedTrees()
		if err != nil {
			return err
		}
		fmt.Println()
		if len(managed) == 0 {
			fmt.Println("No open protected trees")
		} else {
			fmt.Println("Open protected trees:")
			for _, t := range managed {
				fmt.Printf("  %s %s (since %s)\n", color.CyanString("•"), t.Root, t.AddedAt.Format(time.DateTime))
			}
		}

		if root != "" {
			fmt.Printf("\n%s: managed=%t\n", root, a.project.IsManagedTree(root))
		}

		history, err := a.project.History(root, historyLimit)
		if err != nil {
			return err
		}
		fmt.Println()
		printHistory(history)
		return nil
	},
}

func printWatcher(stateDir string) {
	pidPath, err := daemon.PIDPath(stateDir)
	if err != nil {
		return
	}
	rec, err := daemon.NewPIDFile(pidPath).Read()
	switch {
	case errors.Is(err, daemon.ErrNotRunning):
		fmt.Println("Watcher: not running")
	case err != nil:
		fmt.Println("Watcher: " + color.YellowString(err.Error()))
	default:
		if running, _ := daemon.NewPIDFile(pidPath).IsRunning(); !running {
			fmt.Printf("Watcher: %s (stale PID %d)\n", color.YellowString("not running"), rec.PID)
			return
		}
		fmt.Printf("Watcher: %s (PID %d, since %s)\n", color.GreenString("running"), rec.PID, rec.Started.Format(time.DateTime))
		for _, t := range rec.Trees {
			fmt.Printf("  %s %s\n", color.CyanString("•"), t)
		}
	}
}

func printHistory(history []state.SessionRecord) {
	if len(history) == 0 {
		fmt.Println("No sessions recorded")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPENED\tCLOSED\tSTATUS\tACTOR\tFILES\tTREE")
	for _, rec := range history {
		closed := "-"
		if !rec.ClosedAt.IsZero() {
			closed = rec.ClosedAt.Format(time.DateTime)
		}
		status := rec.Status
		switch status {
		case state.StatusFailed:
			status = color.RedString(status)
		case state.StatusOpen:
			status = color.YellowString(status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.OpenedAt.Format(time.DateTime), closed, status, rec.Actor, rec.Files, rec.Root)
		if rec.Error != "" {
			fmt.Fprintf(w, "\t\t\t\t\t%s\n", color.RedString(rec.Error))
		}
	}
	w.Flush()
}

var logCmd = &cobra.Command{
	Use:   "log [tree]",
	Short: "Print the activity log of a tree (administrators only)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		admin, err := a.gate.IsAdministrator()
		if err != nil {
			return err
		}
		if !admin {
			return fmt.Errorf("reading the activity log: %w", domain.ErrPermissionDenied)
		}

		markerName := a.cfg.Tree.Marker
		data, err := a.engine.ReadEncrypted(domain.EncryptedMarkerFile(root, markerName))
		if errors.Is(err, domain.ErrNotFound) {
			// administrator sessions leave the marker decrypted
			data, err = os.ReadFile(domain.MarkerFile(root, markerName))
		}
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%s: %w", root, domain.ErrNotManaged)
			}
			return err
		}

		os.Stdout.Write(data)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of sessions to show")
}
