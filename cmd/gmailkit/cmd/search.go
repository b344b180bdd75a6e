package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maildock/gmailkit"
)

var (
	searchFrom    string
	searchTo      string
	searchSubject string
	searchLabel   string
	searchUnread  bool
	searchAttach  bool
	searchAfter   string
	searchBefore  string
	searchLimit   int64
)

var searchCmd = &cobra.Command{
	Use:   "search <email> [query]",
	Short: "Search messages",
	Long: `Search messages using flags or a raw Gmail query expression.
Flags compose by conjunction; a trailing raw query is appended verbatim.

Examples:
  gmailkit search you@gmail.com --from alerts@bank.com --unread
  gmailkit search you@gmail.com --label Receipts/2026 --after 2026/01/01
  gmailkit search you@gmail.com 'subject:invoice has:attachment'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := newClient(ctx, args[0])
		if err != nil {
			return err
		}

		q := client.Query().Limit(searchLimit)
		if searchFrom != "" {
			q = q.Where(gmailkit.From(searchFrom))
		}
		if searchTo != "" {
			q = q.Where(gmailkit.To(searchTo))
		}
		if searchSubject != "" {
			q = q.Where(gmailkit.Subject(searchSubject))
		}
		if searchUnread {
			q = q.Where(gmailkit.IsUnread())
		}
		if searchAttach {
			q = q.Where(gmailkit.HasAttachment())
		}
		if searchAfter != "" {
			t, err := time.Parse("2006/01/02", searchAfter)
			if err != nil {
				return fmt.Errorf("parse --after: %w", err)
			}
			q = q.Where(gmailkit.After(t))
		}
		if searchBefore != "" {
			t, err := time.Parse("2006/01/02", searchBefore)
			if err != nil {
				return fmt.Errorf("parse --before: %w", err)
			}
			q = q.Where(gmailkit.Before(t))
		}
		if len(args) > 1 {
			q = q.Where(gmailkit.Raw(args[1]))
		}
		if searchLabel != "" {
			label, err := client.Labels().Resolve(ctx, searchLabel)
			if err != nil {
				return err
			}
			q = q.In(label)
		}

		it := q.Execute()
		count := 0
		for {
			m, err := it.Next(ctx)
			if err == gmailkit.Done {
				break
			}
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			count++

			from := ""
			if m.From != nil {
				from = m.From.Address
			}
			fmt.Printf("%s  %-30s  %s\n",
				m.Date.Format("2006-01-02 15:04"), truncate(from, 30), m.Subject)
		}

		fmt.Printf("\n%d messages\n", count)
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "Sender address or name")
	searchCmd.Flags().StringVar(&searchTo, "to", "", "Recipient address")
	searchCmd.Flags().StringVar(&searchSubject, "subject", "", "Subject words")
	searchCmd.Flags().StringVar(&searchLabel, "label", "", "Scope to a label path")
	searchCmd.Flags().BoolVar(&searchUnread, "unread", false, "Unread messages only")
	searchCmd.Flags().BoolVar(&searchAttach, "has-attachment", false, "Messages with attachments only")
	searchCmd.Flags().StringVar(&searchAfter, "after", "", "Received after date (YYYY/MM/DD)")
	searchCmd.Flags().StringVar(&searchBefore, "before", "", "Received before date (YYYY/MM/DD)")
	searchCmd.Flags().Int64Var(&searchLimit, "limit", 50, "Maximum results (0 for unlimited)")
	rootCmd.AddCommand(searchCmd)
}
