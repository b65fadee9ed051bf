// Package config loads qbucket configuration.
//
// Values are layered, lowest to highest: built-in defaults, the config file,
// QBUCKET_* environment variables, and runtime overrides (command flags).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/qbucket/internal/observability"
	"github.com/3leaps/qbucket/pkg/bucket"
	"github.com/3leaps/qbucket/pkg/lister"
	"github.com/3leaps/qbucket/pkg/preflight"
	"github.com/3leaps/qbucket/pkg/provider"
)

// AppName is the application name used for config paths and env prefixes.
const AppName = "qbucket"

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "QBUCKET_"

// ConfigFileName is the config file base name searched for when no explicit
// file is given.
const ConfigFileName = "qbucket"

// Output formats.
const (
	OutputText  = "text"
	OutputJSONL = "jsonl"
)

// Config is the complete qbucket configuration.
type Config struct {
	Backend string        `mapstructure:"backend"`
	GDrive  GDriveConfig  `mapstructure:"gdrive"`
	Local   LocalConfig   `mapstructure:"local"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// GDriveConfig configures the Google Drive backend.
type GDriveConfig struct {
	ClientSecrets string `mapstructure:"client_secrets"`
	Token         string `mapstructure:"token"`
	DriveID       string `mapstructure:"drive_id"`
	Endpoint      string `mapstructure:"endpoint"`
}

// LocalConfig configures the local filesystem backend.
type LocalConfig struct {
	Root string `mapstructure:"root"`
}

// ArchiveConfig holds defaults for archive runs.
type ArchiveConfig struct {
	Prefix    string        `mapstructure:"prefix"`
	PageSize  int           `mapstructure:"page_size"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Includes  []string      `mapstructure:"includes"`
	Excludes  []string      `mapstructure:"excludes"`
	Output    string        `mapstructure:"output"`
	LockDir   string        `mapstructure:"lock_dir"`
	NoLock    bool          `mapstructure:"no_lock"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Preflight string        `mapstructure:"preflight"`
}

// LoggingConfig controls CLI logging.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Verbose bool   `mapstructure:"verbose"`
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Message)
}

// envSpec maps one environment variable to a config key path.
type envSpec struct {
	Name string
	Path []string
}

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
	configUsed string
)

// SetConfigFile sets an explicit config file for subsequent loads.
// An empty path restores the default search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// ConfigFileUsed returns the config file read by the last Load, if any.
func ConfigFileUsed() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return configUsed
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend", string(provider.ProviderGDrive))

	v.SetDefault("gdrive.client_secrets", "client_secret.json")
	v.SetDefault("gdrive.token", "token.json")
	v.SetDefault("gdrive.drive_id", "")
	v.SetDefault("gdrive.endpoint", "")

	v.SetDefault("local.root", "")

	v.SetDefault("archive.prefix", bucket.DefaultPrefix)
	v.SetDefault("archive.page_size", lister.MaxPageSize)
	v.SetDefault("archive.rate_limit", 0.0)
	v.SetDefault("archive.includes", []string{})
	v.SetDefault("archive.excludes", []string{})
	v.SetDefault("archive.output", OutputText)
	v.SetDefault("archive.lock_dir", "")
	v.SetDefault("archive.no_lock", false)
	v.SetDefault("archive.timeout", "0s")
	v.SetDefault("archive.preflight", string(preflight.ModeReadSafe))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.verbose", false)
}

// Load builds the configuration. Later overrides win over earlier ones and
// over every other layer. Overrides may be nested maps or use dotted keys.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v := viper.New()
	SetDefaults(v)

	used, err := readConfigFile(v, explicit)
	if err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(strings.Join(spec.Path, "."), spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Archive.Includes = trimAll(cfg.Archive.Includes)
	cfg.Archive.Excludes = trimAll(cfg.Archive.Excludes)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configUsed = used
	configMu.Unlock()

	if used != "" {
		observability.CLILogger.Debug("Loaded config file", zap.String("path", used))
	}
	return &cfg, nil
}

// GetConfig returns the configuration from the last successful Load, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if _, ok := provider.ParseProviderType(c.Backend); !ok {
		return &ValidationError{Field: "backend", Message: fmt.Sprintf("unknown backend %q (want gdrive or local)", c.Backend)}
	}
	if c.Backend == string(provider.ProviderLocal) && strings.TrimSpace(c.Local.Root) == "" {
		return &ValidationError{Field: "local.root", Message: "required for the local backend"}
	}
	if c.Archive.Prefix == "" {
		return &ValidationError{Field: "archive.prefix", Message: "must not be empty"}
	}
	if c.Archive.PageSize < 0 || c.Archive.PageSize > lister.MaxPageSize {
		return &ValidationError{Field: "archive.page_size", Message: fmt.Sprintf("must be between 1 and %d", lister.MaxPageSize)}
	}
	if c.Archive.RateLimit < 0 {
		return &ValidationError{Field: "archive.rate_limit", Message: "must not be negative"}
	}
	if c.Archive.Timeout < 0 {
		return &ValidationError{Field: "archive.timeout", Message: "must not be negative"}
	}
	if _, err := preflight.ParseMode(c.Archive.Preflight); err != nil {
		return &ValidationError{Field: "archive.preflight", Message: err.Error()}
	}
	switch c.Archive.Output {
	case OutputText, OutputJSONL:
	default:
		return &ValidationError{Field: "archive.output", Message: fmt.Sprintf("unknown output %q (want text or jsonl)", c.Archive.Output)}
	}
	return nil
}

func readConfigFile(v *viper.Viper, explicit string) (string, error) {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", explicit, err)
		}
		return v.ConfigFileUsed(), nil
	}

	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, dir := range getUserConfigPaths() {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// getUserConfigPaths returns the per-user directories searched for the
// config file.
func getUserConfigPaths() []string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(dir, AppName)}
}

// getEnvSpecs lists the supported environment variables.
func getEnvSpecs() []envSpec {
	return []envSpec{
		{Name: EnvPrefix + "BACKEND", Path: []string{"backend"}},
		{Name: EnvPrefix + "CLIENT_SECRETS", Path: []string{"gdrive", "client_secrets"}},
		{Name: EnvPrefix + "TOKEN", Path: []string{"gdrive", "token"}},
		{Name: EnvPrefix + "DRIVE_ID", Path: []string{"gdrive", "drive_id"}},
		{Name: EnvPrefix + "DRIVE_ENDPOINT", Path: []string{"gdrive", "endpoint"}},
		{Name: EnvPrefix + "LOCAL_ROOT", Path: []string{"local", "root"}},
		{Name: EnvPrefix + "PREFIX", Path: []string{"archive", "prefix"}},
		{Name: EnvPrefix + "PAGE_SIZE", Path: []string{"archive", "page_size"}},
		{Name: EnvPrefix + "RATE_LIMIT", Path: []string{"archive", "rate_limit"}},
		{Name: EnvPrefix + "INCLUDE", Path: []string{"archive", "includes"}},
		{Name: EnvPrefix + "EXCLUDE", Path: []string{"archive", "excludes"}},
		{Name: EnvPrefix + "OUTPUT", Path: []string{"archive", "output"}},
		{Name: EnvPrefix + "LOCK_DIR", Path: []string{"archive", "lock_dir"}},
		{Name: EnvPrefix + "NO_LOCK", Path: []string{"archive", "no_lock"}},
		{Name: EnvPrefix + "TIMEOUT", Path: []string{"archive", "timeout"}},
		{Name: EnvPrefix + "PREFLIGHT", Path: []string{"archive", "preflight"}},
		{Name: EnvPrefix + "LOG_LEVEL", Path: []string{"logging", "level"}},
		{Name: EnvPrefix + "VERBOSE", Path: []string{"logging", "verbose"}},
	}
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
