package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Ning0612/submitguard/internal/config"
	"github.com/Ning0612/submitguard/internal/daemon"
	"github.com/Ning0612/submitguard/internal/logger"
	"github.com/Ning0612/submitguard/internal/service"
)

var watchStop bool

var watchCmd = &cobra.Command{
	Use:   "watch [tree...]",
	Short: "Open trees and record activity until interrupted",
	Long: `Opens every given tree, records edits, creations and deletions while it runs,
and closes the trees again on Ctrl+C or SIGTERM.

Use --stop to end a watcher running in another terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchStop {
			return stopWatcher()
		}

		roots, err := resolveRoots(args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		pidPath, err := daemon.PIDPath(a.cfg.Settings.StateDir)
		if err != nil {
			return err
		}
		pid := daemon.NewPIDFile(pidPath)
		if err := pid.Write(roots); err != nil {
			return err
		}
		defer func() {
			if err := pid.Remove(); err != nil {
				logger.Get().Warn("Failed to remove PID file", "error", err)
			}
		}()

		d, err := service.NewDaemonService(a.cfg, a.project, a.flush, a.state)
		if err != nil {
			return err
		}
		if err := d.Start(ctx, roots); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}

		fmt.Println(success("Watching " + color.YellowString(strings.Join(roots, ", "))))
		fmt.Println(color.CyanString("→") + " Press Ctrl+C to close the trees")

		<-ctx.Done()
		fmt.Println("Closing trees...")

		if err := d.Stop(); err != nil {
			return fmt.Errorf("failed to close trees: %w", err)
		}
		fmt.Println(success("Trees closed"))
		return nil
	},
}

// stopWatcher signals the watcher recorded in the PID file and waits for it to exit
func stopWatcher() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	pidPath, err := daemon.PIDPath(cfg.Settings.StateDir)
	if err != nil {
		return err
	}
	pid := daemon.NewPIDFile(pidPath)

	if err := pid.Signal(); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			fmt.Println(color.YellowString("!") + " No watcher is running")
			return nil
		}
		return err
	}

	wait := cfg.Activity.ShutdownGrace + 10*time.Second
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if running, _ := pid.IsRunning(); !running {
			fmt.Println(success("Watcher stopped"))
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("watcher did not stop within %s", wait)
}

func init() {
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop a running watcher")
}
