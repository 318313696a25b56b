package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Ning0612/submitguard/internal/lock"
	"github.com/Ning0612/submitguard/internal/logger"
)

var openCmd = &cobra.Command{
	Use:   "open [tree]",
	Short: "Decrypt a protected tree and start a working session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}

		s, cleanup := startSpinner("Opening " + root)
		defer cleanup()

		a, err := newApp(spinnerReporter(s))
		if err != nil {
			return fail(s, "Failed to load configuration", err)
		}
		defer a.Close()

		session, err := a.project.Open(cmd.Context(), root)
		if err != nil {
			return fail(s, "Failed to open "+root, err)
		}
		// the session outlives this process; close picks it up again
		if err := session.Logger.Flush(cmd.Context()); err != nil {
			logger.Get().Warn("Failed to write session records", "tree", root, "error", err)
		}

		s.FinalMSG = success(fmt.Sprintf("Opened %s as %s: %d file(s) decrypted",
			color.YellowString(session.Name()), session.Actor, session.Decrypted))
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close [tree]",
	Short: "End the session of a tree and protect it again",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}

		s, cleanup := startSpinner("Closing " + root)
		defer cleanup()

		a, err := newApp(spinnerReporter(s))
		if err != nil {
			return fail(s, "Failed to load configuration", err)
		}
		defer a.Close()

		session, err := a.project.Resume(cmd.Context(), root)
		if err != nil {
			return fail(s, "No session to close in "+root, err)
		}
		if err := a.project.Close(cmd.Context(), session); err != nil {
			return fail(s, "Failed to close "+root, err)
		}

		if session.Actor.IsAdministrator() {
			s.FinalMSG = success("Closed " + color.YellowString(session.Name()) + ", tree left readable")
		} else {
			s.FinalMSG = success("Closed and protected " + color.YellowString(session.Name()))
		}
		return nil
	},
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt [tree]",
	Short: "Protect a tree outside of a session, making it managed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}

		s, cleanup := startSpinner("Encrypting " + root)
		defer cleanup()

		a, err := newApp(spinnerReporter(s))
		if err != nil {
			return fail(s, "Failed to load configuration", err)
		}
		defer a.Close()

		count, err := a.project.EncryptTree(cmd.Context(), root)
		if err != nil {
			return fail(s, "Failed to encrypt "+root, err)
		}
		s.FinalMSG = success(fmt.Sprintf("Encrypted %d file(s) in %s", count, color.YellowString(root)))
		return nil
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt [tree]",
	Short: "Decrypt a tree outside of a session (administrators only)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}

		s, cleanup := startSpinner("Decrypting " + root)
		defer cleanup()

		a, err := newApp(spinnerReporter(s))
		if err != nil {
			return fail(s, "Failed to load configuration", err)
		}
		defer a.Close()

		count, err := a.project.DecryptTree(cmd.Context(), root)
		if err != nil {
			return fail(s, "Failed to decrypt "+root, err)
		}
		s.FinalMSG = success(fmt.Sprintf("Decrypted %d file(s) in %s", count, color.YellowString(root)))
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock [tree]",
	Short: "Remove the lifecycle lock a crashed process left on a tree",
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

		l, err := lock.NewTreeLock(a.cfg.StatePath(lock.LockDirName), root)
		if err != nil {
			return err
		}
		if !l.IsLocked() {
			fmt.Println(success(root + " is not locked"))
			return nil
		}

		if holder, err := l.GetHolder(); err == nil {
			fmt.Printf("Lock held by PID %d on %s (%s) since %s\n",
				holder.PID, holder.Hostname, holder.Operation, holder.StartTime.Format("2006-01-02 15:04:05"))
		}
		if err := l.ForceRelease(); err != nil {
			return fmt.Errorf("failed to remove lock: %w", err)
		}
		fmt.Println(success("Lock removed from " + root))
		return nil
	},
}
