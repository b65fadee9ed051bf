// Package cmd implements the qbucket command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/qbucket/internal/config"
	"github.com/3leaps/qbucket/internal/observability"
	"github.com/3leaps/qbucket/pkg/provider"
	"github.com/3leaps/qbucket/pkg/provider/gdrive"
	"github.com/3leaps/qbucket/pkg/provider/local"
)

// VersionInfo holds build metadata injected at link time.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{
	Version:   "dev",
	Commit:    "none",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile       string
	clientSecrets string
	tokenPath     string
	driveID       string
	backendName   string
	localRoot     string
	logLevel      string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Sort numbered folders into 1000-wide bucket folders",
	Long: `qbucket moves folders named like Q123456-Something out of a source folder
and into bucket folders such as Q123000-Q123999 under a destination folder.
Missing bucket folders are created on demand.

The default backend is Google Drive. A local directory tree can be used
instead with --backend local --local-root DIR, in which case folder ids are
paths relative to the root ("." is the root itself).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRun,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./qbucket.yaml or the user config dir)")
	pf.StringVar(&clientSecrets, "client-secrets", gdrive.DefaultClientSecretsPath, "OAuth client secrets JSON")
	pf.StringVar(&tokenPath, "token", gdrive.DefaultTokenPath, "OAuth token cache file")
	pf.StringVar(&driveID, "drive-id", "", "Shared drive id (lists with corpora=drive)")
	pf.StringVar(&backendName, "backend", string(provider.ProviderGDrive), "Storage backend (gdrive|local)")
	pf.StringVar(&localRoot, "local-root", "", "Root directory for the local backend")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Trace listing, bucket resolution and moves to stderr")
}

// flagConfigKeys maps flag names to the config keys they override.
var flagConfigKeys = map[string]string{
	"client-secrets": "gdrive.client_secrets",
	"token":          "gdrive.token",
	"drive-id":       "gdrive.drive_id",
	"backend":        "backend",
	"local-root":     "local.root",
	"log-level":      "logging.level",
	"verbose":        "logging.verbose",
	"prefix":         "archive.prefix",
	"page-size":      "archive.page_size",
	"rate-limit":     "archive.rate_limit",
	"include":        "archive.includes",
	"exclude":        "archive.excludes",
	"output":         "archive.output",
	"lock-dir":       "archive.lock_dir",
	"no-lock":        "archive.no_lock",
	"timeout":        "archive.timeout",
	"preflight":      "archive.preflight",
}

// configOverrides collects the flags set on the command line as config
// overrides. Flags left at their defaults do not override lower layers.
func configOverrides(flags *pflag.FlagSet) map[string]any {
	out := make(map[string]any)
	flags.Visit(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		key, ok := flagConfigKeys[f.Name]
		if !ok {
			return
		}
		out[key] = flagValue(flags, f)
	})
	return out
}

func flagValue(flags *pflag.FlagSet, f *pflag.Flag) any {
	switch f.Value.Type() {
	case "bool":
		v, _ := flags.GetBool(f.Name)
		return v
	case "int":
		v, _ := flags.GetInt(f.Name)
		return v
	case "float64":
		v, _ := flags.GetFloat64(f.Name)
		return v
	case "duration":
		v, _ := flags.GetDuration(f.Name)
		return v
	case "stringArray":
		v, _ := flags.GetStringArray(f.Name)
		return v
	}
	return f.Value.String()
}

// initRun loads configuration and sets up logging before any command runs.
func initRun(cmd *cobra.Command, args []string) error {
	config.SetConfigFile(cfgFile)
	cfg, err := config.Load(cmd.Context(), configOverrides(cmd.Flags()))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	level := observability.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.Verbose {
		level = zapcore.DebugLevel
	}
	observability.InitCLILoggerAt(config.AppName, level)
	return nil
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// exitFailure is the generic failure code for errors without an ExitError.
const exitFailure = 1

// exitCodeFor returns the exit code for an error returned by a command.
// Cancellation always maps to the interrupt code.
func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return foundry.ExitSignalInt
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return exitFailure
}

// storageExitError maps a storage API failure to an exit error.
func storageExitError(message string, err error) error {
	if errors.Is(err, context.Canceled) {
		return exitError(foundry.ExitSignalInt, message+" (interrupted)", err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, message, err)
}

// ExitWithCode logs err and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if err != nil {
		logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	} else {
		logger.Error(message, zap.Int("exit_code", code))
	}
	_ = logger.Sync()
	os.Exit(code)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run context;
// moves already applied stay in place.
func Execute() {
	observability.InitCLILogger(config.AppName, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}
	if ctx.Err() != nil && !errors.Is(err, context.Canceled) {
		err = exitError(foundry.ExitSignalInt, "Interrupted", err)
	}
	stop()

	message, cause := "Command failed", err
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		message, cause = exitErr.Message, exitErr.Err
	}
	ExitWithCode(observability.CLILogger, exitCodeFor(err), message, cause)
}

// newProvider builds the storage provider selected by cfg.
func newProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch provider.ProviderType(cfg.Backend) {
	case provider.ProviderLocal:
		p, err := local.New(local.Config{BaseDir: cfg.Local.Root})
		if err != nil {
			return nil, exitError(foundry.ExitFileNotFound, "Failed to open local root", err)
		}
		return p, nil
	case provider.ProviderGDrive:
		if _, err := os.Stat(cfg.GDrive.ClientSecrets); err != nil {
			return nil, exitError(foundry.ExitFileNotFound, "OAuth client secrets file not found", err)
		}
		p, err := gdrive.New(ctx, gdrive.Config{
			ClientSecretsPath: cfg.GDrive.ClientSecrets,
			TokenPath:         cfg.GDrive.Token,
			Endpoint:          cfg.GDrive.Endpoint,
			PageSize:          cfg.Archive.PageSize,
			Prompt:            promptAuthURL,
			Logger:            observability.CLILogger,
		})
		if err != nil {
			return nil, storageExitError("Failed to connect to Google Drive", err)
		}
		return p, nil
	}
	return nil, exitError(foundry.ExitInvalidArgument, "Unknown backend", fmt.Errorf("%q", cfg.Backend))
}

func promptAuthURL(authURL string) {
	fmt.Fprintf(os.Stderr, "Open this URL in a browser to authorize access:\n\n  %s\n\n", authURL)
}
