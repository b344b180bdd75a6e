package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile <email>",
	Short: "Show account profile and message counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		p, err := client.Profile(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetch profile: %w", err)
		}

		fmt.Printf("Address:  %s\n", p.EmailAddress)
		fmt.Printf("Messages: %d\n", p.MessagesTotal)
		fmt.Printf("Threads:  %d\n", p.ThreadsTotal)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
}
