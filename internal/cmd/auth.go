package cmd

import (
	"errors"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/qbucket/internal/config"
	"github.com/3leaps/qbucket/internal/observability"
	"github.com/3leaps/qbucket/pkg/provider/gdrive"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize Google Drive access and cache the token",
	Long: `Run the OAuth installed-app login for Google Drive and write the token file.

A cached token that is still valid, or that can be refreshed, is reused
without opening a browser.

Examples:
  qbucket auth
  qbucket auth --client-secrets ~/secrets/client_secret.json --token ~/.qbucket-token.json`,
	Args: cobra.NoArgs,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	if _, err := os.Stat(cfg.GDrive.ClientSecrets); err != nil {
		return exitError(foundry.ExitFileNotFound, "OAuth client secrets file not found", err)
	}

	ts, err := gdrive.Authenticate(ctx, gdrive.AuthConfig{
		ClientSecretsPath: cfg.GDrive.ClientSecrets,
		TokenPath:         cfg.GDrive.Token,
		Prompt:            promptAuthURL,
		Logger:            observability.CLILogger,
	})
	if err != nil {
		if errors.Is(err, gdrive.ErrAuthDenied) || errors.Is(err, gdrive.ErrAuthStateMismatch) {
			return exitError(foundry.ExitInvalidArgument, "Authorization was not granted", err)
		}
		return storageExitError("Authorization failed", err)
	}

	tok, err := ts.Token()
	if err != nil {
		return storageExitError("Failed to obtain access token", err)
	}

	observability.CLILogger.Info("Token saved",
		zap.String("path", cfg.GDrive.Token),
		zap.Time("expiry", tok.Expiry))
	return nil
}
