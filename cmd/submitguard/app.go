package main

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/Ning0612/submitguard/internal/activity"
	"github.com/Ning0612/submitguard/internal/cipher"
	"github.com/Ning0612/submitguard/internal/config"
	"github.com/Ning0612/submitguard/internal/credential"
	"github.com/Ning0612/submitguard/internal/logger"
	"github.com/Ning0612/submitguard/internal/progress"
	"github.com/Ning0612/submitguard/internal/service"
	"github.com/Ning0612/submitguard/internal/state"
	"github.com/Ning0612/submitguard/internal/transport"
)

// app holds every component a command may need
type app struct {
	cfg    *config.Config
	engine *cipher.Engine
	store  credential.SecretStore
	gate   *credential.Gate
	state  *state.Manager
	flush  *activity.Service

	project *service.ProjectService
	export  *service.ExportService
	submit  *service.SubmitService
}

// newApp loads the configuration and wires the services. reporter receives
// the progress of tree walks.
func newApp(reporter progress.Reporter) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logCfg := logger.NewConfig(logLevel(cfg), cfg.Logging.Format, config.ExpandPath(cfg.Logging.File))
	logCfg.Secrets = []string{cfg.Cipher.Passphrase, cfg.Cipher.AdminSecret}
	if err := logger.Init(logCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg}
	if err := a.wire(reporter); err != nil {
		a.Close()
		return nil, err
	}
	logger.Get().Debug("Configuration loaded", "state_dir", cfg.Settings.StateDir, "marker", cfg.Tree.Marker)
	return a, nil
}

func (a *app) wire(reporter progress.Reporter) error {
	key, err := cipher.DeriveKey(a.cfg.Cipher.Passphrase)
	if err != nil {
		return err
	}
	a.engine, err = cipher.New(afero.NewOsFs(), key, cipher.WithReporter(reporter))
	if err != nil {
		return err
	}

	a.store = credential.NewKeyringStore()
	a.gate = credential.NewGate(a.store, a.cfg.AdminSecret())

	a.state, err = state.NewManager(a.cfg.Settings.StateDir)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}

	a.flush, err = activity.NewService(a.cfg.Activity.FlushPeriod, a.cfg.Activity.ShutdownGrace)
	if err != nil {
		return err
	}

	a.project, err = service.NewProjectService(a.cfg, a.engine, a.gate, a.state, a.flush)
	if err != nil {
		return err
	}
	a.export, err = service.NewExportService(a.cfg, a.engine, a.gate, a.flush, reporter)
	if err != nil {
		return err
	}
	a.submit, err = service.NewSubmitService(a.export, transport.New(), "")
	return err
}

// Close releases the state database and flushes diagnostics
func (a *app) Close() {
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			logger.Get().Warn("Failed to close state", "error", err)
		}
	}
	logger.Shutdown()
}

func logLevel(cfg *config.Config) string {
	if verbose {
		return "debug"
	}
	return cfg.Logging.Level
}
