package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/Ning0612/submitguard/internal/logger"
	"github.com/Ning0612/submitguard/internal/progress"
)

// startSpinner shows message until the returned cleanup runs. The spinner stays
// off in verbose mode so it does not interleave with log lines; FinalMSG is
// printed either way.
func startSpinner(message string) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	// Ignore color errors - continue without colored spinner if it fails.
	_ = s.Color("cyan")

	if !verbose {
		s.Start()
	}

	cleanup := func() {
		if s.FinalMSG != "" && !strings.HasSuffix(s.FinalMSG, "\n") {
			s.FinalMSG += "\n"
		}
		if verbose {
			fmt.Print(s.FinalMSG)
			return
		}
		s.Stop()
	}
	return s, cleanup
}

// spinnerReporter mirrors tree walk progress into the spinner suffix
func spinnerReporter(s *spinner.Spinner) progress.Reporter {
	return progress.NewCallbackReporter(func(u progress.Update) {
		if u.Type == progress.UpdateFailed {
			logger.Get().Warn("Skipped file", "path", u.Path, "error", u.Error)
		}
		s.Lock()
		s.Suffix = " " + progress.Summary(u)
		s.Unlock()
	})
}

func success(message string) string {
	return color.GreenString("✓") + " " + message
}

// fail puts a failure line on the spinner and returns err for the exit status
func fail(s *spinner.Spinner, message string, err error) error {
	s.FinalMSG = color.RedString("✗") + " " + message
	return fmt.Errorf("%s: %w", strings.ToLower(message[:1])+message[1:], err)
}

// resolveRoot returns the absolute tree named by args, or the working directory
func resolveRoot(args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return os.Getwd()
	}
	root, err := filepath.Abs(args[0])
	if err != nil {
		return "", fmt.Errorf("invalid tree path %q: %w", args[0], err)
	}
	return root, nil
}

// resolveRoots is resolveRoot for commands that accept several trees
func resolveRoots(args []string) ([]string, error) {
	if len(args) == 0 {
		root, err := resolveRoot(nil)
		if err != nil {
			return nil, err
		}
		return []string{root}, nil
	}

	roots := make([]string, 0, len(args))
	seen := make(map[string]bool, len(args))
	for _, arg := range args {
		root, err := resolveRoot([]string{arg})
		if err != nil {
			return nil, err
		}
		if seen[root] {
			continue
		}
		seen[root] = true
		roots = append(roots, root)
	}
	return roots, nil
}
