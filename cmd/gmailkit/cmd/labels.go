package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var cascadeDelete bool

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Manage the account's label hierarchy",
}

var labelsListCmd = &cobra.Command{
	Use:   "list <email>",
	Short: "List all labels as a tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		labels, err := client.Labels().All(cmd.Context())
		if err != nil {
			return fmt.Errorf("list labels: %w", err)
		}

		for _, l := range labels {
			depth := strings.Count(l.Path(), "/")
			indent := strings.Repeat("  ", depth)
			fmt.Printf("%s%s  (%d messages, %d unread)\n",
				indent, l.Name(), l.MessagesTotal(), l.MessagesUnread())
		}
		return nil
	},
}

var labelsCreateCmd = &cobra.Command{
	Use:   "create <email> <path>",
	Short: "Create a label, including missing ancestors",
	Long: `Create a label at the given slash-separated path. Missing ancestor
labels are created as needed. Creating an existing path is a no-op.

Examples:
  gmailkit labels create you@gmail.com Receipts
  gmailkit labels create you@gmail.com Receipts/2026/Travel`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		label, err := client.Labels().Create(cmd.Context(), args[1])
		if err != nil {
			return fmt.Errorf("create label: %w", err)
		}

		fmt.Printf("Created %s (id %s)\n", label.Path(), label.ID())
		return nil
	},
}

var labelsDeleteCmd = &cobra.Command{
	Use:   "delete <email> <path>",
	Short: "Delete a label",
	Long: `Delete the label at the given path. A label with nested labels is
refused unless --cascade is given, which deletes the whole subtree.
Messages keep their other labels.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		tree := client.Labels()
		label, err := tree.Resolve(cmd.Context(), args[1])
		if err != nil {
			return err
		}

		if err := tree.Delete(cmd.Context(), label, cascadeDelete); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[1])
		return nil
	},
}

func init() {
	labelsDeleteCmd.Flags().BoolVar(&cascadeDelete, "cascade", false, "Also delete nested labels")
	labelsCmd.AddCommand(labelsListCmd)
	labelsCmd.AddCommand(labelsCreateCmd)
	labelsCmd.AddCommand(labelsDeleteCmd)
	rootCmd.AddCommand(labelsCmd)
}
