package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/maildock/gmailkit"
	"github.com/maildock/gmailkit/config"
	"github.com/maildock/gmailkit/oauth"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gmailkit",
	Short: "Gmail mailbox client",
	Long: `gmailkit is a command-line Gmail client: authorize accounts, browse
the label hierarchy, search messages, and send mail.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Set up logging
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// newOAuthManager builds an OAuth manager from the loaded config.
func newOAuthManager() (*oauth.Manager, error) {
	if cfg.OAuth.ClientSecrets == "" {
		return nil, errOAuthNotConfigured()
	}

	opts := []oauth.ManagerOption{oauth.WithLogger(logger)}
	if cfg.Auth.TimeoutSeconds > 0 {
		opts = append(opts, oauth.WithTimeout(time.Duration(cfg.Auth.TimeoutSeconds)*time.Second))
	}
	if cfg.Auth.CallbackPort > 0 {
		opts = append(opts, oauth.WithCallbackPort(cfg.Auth.CallbackPort))
	}

	mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), opts...)
	if err != nil {
		return nil, wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}
	return mgr, nil
}

// newClient builds an authenticated gmailkit client for the given account.
func newClient(ctx context.Context, email string) (*gmailkit.Client, error) {
	mgr, err := newOAuthManager()
	if err != nil {
		return nil, err
	}

	tokenSource, err := tokenSourceWithReauth(ctx, mgr, email)
	if err != nil {
		return nil, err
	}

	return gmailkit.New(ctx, tokenSource,
		gmailkit.WithLogger(logger),
		gmailkit.WithRateLimit(cfg.API.RateLimitUnits),
		gmailkit.WithPageSize(cfg.API.PageSize),
		gmailkit.WithConcurrency(cfg.API.Concurrency),
	)
}

// tokenSourceWithReauth gets a token source for the given email. If the
// stored grant is expired or revoked, it deletes the old token and
// re-initiates the browser flow.
func tokenSourceWithReauth(ctx context.Context, mgr *oauth.Manager, email string) (oauth2.TokenSource, error) {
	tokenSource, err := mgr.TokenSource(ctx, email)
	if err == nil {
		return tokenSource, nil
	}

	// No token at all - user needs to run auth
	if !mgr.HasToken(email) {
		return nil, fmt.Errorf("get token source: %w (run 'gmailkit auth %s' first)", err, email)
	}

	if !errors.Is(err, oauth.ErrAuthExpired) {
		return nil, err
	}

	// Token exists but failed (expired/revoked) - auto re-authorize
	fmt.Printf("Token for %s is expired or revoked. Re-authorizing...\n", email)

	if delErr := mgr.DeleteToken(email); delErr != nil {
		return nil, fmt.Errorf("delete expired token: %w", delErr)
	}

	if authErr := mgr.Authorize(ctx, email, false); authErr != nil {
		return nil, fmt.Errorf("re-authorize %s: %w", email, authErr)
	}

	tokenSource, err = mgr.TokenSource(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get token source after re-authorization: %w", err)
	}
	return tokenSource, nil
}

// errOAuthNotConfigured returns a helpful error when OAuth client secrets
// are missing.
func errOAuthNotConfigured() error {
	return fmt.Errorf(`OAuth client secrets not configured.

To use gmailkit, you need a Google Cloud OAuth credential:
  1. Create an OAuth client in the Google Cloud console
  2. Download the client_secret.json file
  3. Create or edit ~/.gmailkit/config.toml:
       [oauth]
       client_secrets = "/path/to/client_secret.json"`)
}

// wrapOAuthError wraps an oauth/client-secrets error with setup
// instructions if the root cause is a missing or unreadable secrets file.
func wrapOAuthError(err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("OAuth client secrets file not accessible: %w", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.gmailkit/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
