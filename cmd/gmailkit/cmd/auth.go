package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	headless    bool
	forceReauth bool
)

var authCmd = &cobra.Command{
	Use:   "auth <email>",
	Short: "Authorize a Gmail account via OAuth",
	Long: `Authorize a Gmail account by completing the OAuth2 consent flow.

By default, opens a browser and waits for the consent redirect on a local
listener. Use --headless for the device code flow on servers without a
browser.

If a token already exists, the command skips authorization. Use --force to
delete the existing token and re-authorize (useful when a token has expired
or been revoked).

Examples:
  gmailkit auth you@gmail.com
  gmailkit auth you@gmail.com --headless
  gmailkit auth you@gmail.com --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		mgr, err := newOAuthManager()
		if err != nil {
			return err
		}

		if forceReauth && mgr.HasToken(email) {
			fmt.Printf("Removing existing token for %s...\n", email)
			if err := mgr.DeleteToken(email); err != nil {
				return fmt.Errorf("delete existing token: %w", err)
			}
		}

		if mgr.HasToken(email) {
			fmt.Printf("Account %s is already authorized.\n", email)
			fmt.Println("To re-authorize (e.g., expired token), run: gmailkit auth", email, "--force")
			return nil
		}

		if err := mgr.Authorize(cmd.Context(), email, headless); err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}

		fmt.Printf("\nAccount %s authorized successfully!\n", email)
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <email>",
	Short: "Remove a stored account token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newOAuthManager()
		if err != nil {
			return err
		}
		if err := mgr.DeleteToken(args[0]); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		fmt.Printf("Token for %s removed.\n", args[0])
		return nil
	},
}

func init() {
	authCmd.Flags().BoolVar(&headless, "headless", false, "Use the device code flow instead of a browser")
	authCmd.Flags().BoolVar(&forceReauth, "force", false, "Delete existing token and re-authorize")
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(revokeCmd)
}
