package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ning0612/submitguard/internal/domain"
)

// Config represents the complete configuration for submitguard
type Config struct {
	Cipher    CipherConfig    `mapstructure:"cipher"`
	Tree      TreeConfig      `mapstructure:"tree"`
	Activity  ActivityConfig  `mapstructure:"activity"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Packaging PackagingConfig `mapstructure:"packaging"`
	Settings  SettingsConfig  `mapstructure:"settings"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CipherConfig holds the shared passphrase every protected tree is keyed from
type CipherConfig struct {
	Passphrase string `mapstructure:"passphrase"`

	// AdminSecret is the value the administrative keyring scope must hold.
	// Empty means the passphrase itself.
	AdminSecret string `mapstructure:"admin_secret"`
}

// TreeConfig describes how managed trees are recognised
type TreeConfig struct {
	Marker string `mapstructure:"marker"`
}

// ActivityConfig tunes the activity recorder
type ActivityConfig struct {
	// Cooldown is the minimum time between two ordinary modification records of one file
	Cooldown time.Duration `mapstructure:"cooldown"`

	// OpenDelay suppresses create/delete records right after a tree is opened
	OpenDelay time.Duration `mapstructure:"open_delay"`

	// CreateSuppression suppresses modification records right after a file is created
	CreateSuppression time.Duration `mapstructure:"create_suppression"`

	// LargeEditThreshold is the number of inserted characters above which an edit
	// is recorded with its text
	LargeEditThreshold int `mapstructure:"large_edit_threshold"`

	// BoilerplateMaxLength and BoilerplatePrefixes drop short pasted snippets that
	// only contain boilerplate such as imports
	BoilerplateMaxLength int      `mapstructure:"boilerplate_max_length"`
	BoilerplatePrefixes  []string `mapstructure:"boilerplate_prefixes"`

	RelevantExtensions []string      `mapstructure:"relevant_extensions"`
	FlushPeriod        time.Duration `mapstructure:"flush_period"`

	// WaitForIndex holds records back until the host reports it finished indexing
	WaitForIndex  bool          `mapstructure:"wait_for_index"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// IdentityConfig identifies the student and the submission target
type IdentityConfig struct {
	FullName string `mapstructure:"full_name"`
	UserID   string `mapstructure:"user_id"`
	Server   string `mapstructure:"server"`
	PoolID   string `mapstructure:"pool_id"`
}

// PackagingConfig tunes archive creation
type PackagingConfig struct {
	// KeepHidden keeps dot-files and dot-directories in archives
	KeepHidden bool     `mapstructure:"keep_hidden"`
	Ignore     []string `mapstructure:"ignore"`
}

// SettingsConfig holds local state locations
type SettingsConfig struct {
	StateDir string `mapstructure:"state_dir"`
}

// LoggingConfig configures diagnostic logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if c.Cipher.Passphrase == "" {
		return fmt.Errorf("%w: cipher.passphrase is required", domain.ErrConfigInvalid)
	}
	if strings.ContainsAny(c.Tree.Marker, `/\`) || c.Tree.Marker == "" {
		return fmt.Errorf("%w: tree.marker must be a plain file name, got %q", domain.ErrConfigInvalid, c.Tree.Marker)
	}

	a := c.Activity
	if a.FlushPeriod <= 0 {
		return fmt.Errorf("%w: activity.flush_period must be positive", domain.ErrConfigInvalid)
	}
	if a.Cooldown < 0 || a.OpenDelay < 0 || a.CreateSuppression < 0 || a.ShutdownGrace < 0 {
		return fmt.Errorf("%w: activity durations cannot be negative", domain.ErrConfigInvalid)
	}
	if a.LargeEditThreshold < 0 || a.BoilerplateMaxLength < 0 {
		return fmt.Errorf("%w: activity thresholds cannot be negative", domain.ErrConfigInvalid)
	}

	if c.Settings.StateDir == "" {
		return fmt.Errorf("%w: settings.state_dir is required", domain.ErrConfigInvalid)
	}

	return nil
}

// AdminSecret returns the value that grants the administrator role
func (c *Config) AdminSecret() string {
	if c.Cipher.AdminSecret != "" {
		return c.Cipher.AdminSecret
	}
	return c.Cipher.Passphrase
}

// HasIdentity reports whether the student identity is complete
func (c *Config) HasIdentity() bool {
	return strings.TrimSpace(c.Identity.FullName) != "" && strings.TrimSpace(c.Identity.UserID) != ""
}

// StatePath returns a file inside the state directory
func (c *Config) StatePath(name string) string {
	return filepath.Join(c.Settings.StateDir, name)
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
