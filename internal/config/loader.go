package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Ning0612/submitguard/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. SUBMITGUARD_CIPHER_PASSPHRASE
const EnvPrefix = "SUBMITGUARD"

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{
		".",
		"./configs",
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "submitguard"))
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".submitguard"))
	}

	return paths
}

// DefaultStateDir is where the managed set, session history and locks live
func DefaultStateDir() string {
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "submitguard")
	}
	return filepath.Join(os.TempDir(), "submitguard")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cipher.passphrase", "")
	v.SetDefault("cipher.admin_secret", "")

	v.SetDefault("tree.marker", domain.DefaultMarkerName)

	v.SetDefault("activity.cooldown", 30*time.Second)
	v.SetDefault("activity.open_delay", 10*time.Second)
	v.SetDefault("activity.create_suppression", 3*time.Second)
	v.SetDefault("activity.large_edit_threshold", 20)
	v.SetDefault("activity.boilerplate_max_length", 30)
	v.SetDefault("activity.boilerplate_prefixes", []string{"import ", "#include", "package ", "using ", "from "})
	v.SetDefault("activity.relevant_extensions", []string{
		"java", "kt", "c", "cc", "cpp", "h", "hpp", "cs", "go", "py", "js", "ts", "html", "css", "php", "sql",
	})
	v.SetDefault("activity.flush_period", time.Minute)
	v.SetDefault("activity.wait_for_index", false)
	v.SetDefault("activity.shutdown_grace", 60*time.Second)

	v.SetDefault("identity.full_name", "")
	v.SetDefault("identity.user_id", "")
	v.SetDefault("identity.server", "")
	v.SetDefault("identity.pool_id", "")

	v.SetDefault("packaging.keep_hidden", false)
	v.SetDefault("packaging.ignore", []string{})

	v.SetDefault("settings.state_dir", DefaultStateDir())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads and parses a configuration file.
// If path is empty, searches default locations for config.yaml; a missing file
// is then not an error, defaults and environment overrides still apply.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			// search mode only
		case path != "" && errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	}

	return decode(v)
}

// LoadFromString parses configuration from a YAML string
func LoadFromString(yamlContent string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.Settings.StateDir = ExpandPath(cfg.Settings.StateDir)
	if cfg.Logging.File != "" {
		cfg.Logging.File = ExpandPath(cfg.Logging.File)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveIdentity writes the identity section into the config file at path,
// keeping every other key of an existing file.
func SaveIdentity(path string, id IdentityConfig) error {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	}

	v.Set("identity.full_name", id.FullName)
	v.Set("identity.user_id", id.UserID)
	v.Set("identity.server", id.Server)
	v.Set("identity.pool_id", id.PoolID)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultConfigFile is where SaveIdentity writes when no file was given
func DefaultConfigFile() string {
	return filepath.Join(DefaultStateDir(), "config.yaml")
}
