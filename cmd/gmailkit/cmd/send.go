package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	sendTo      []string
	sendCc      []string
	sendBcc     []string
	sendSubject string
	sendBody    string
	sendAttach  []string
	saveDraft   bool
)

var sendCmd = &cobra.Command{
	Use:   "send <email>",
	Short: "Compose and send a message",
	Long: `Compose a message and send it, or store it as a draft with --draft.
The body comes from --body, or from stdin when --body is omitted.

Examples:
  gmailkit send you@gmail.com --to a@example.com --subject Hi --body "Hello"
  gmailkit send you@gmail.com --to a@example.com --subject Report --attach report.pdf < body.txt
  gmailkit send you@gmail.com --to a@example.com --subject Later --body "..." --draft`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(sendTo) == 0 {
			return fmt.Errorf("at least one --to recipient is required")
		}

		body := sendBody
		if body == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read body from stdin: %w", err)
			}
			body = string(data)
		}

		client, err := newClient(ctx, args[0])
		if err != nil {
			return err
		}

		draft := client.Draft().
			To(sendTo...).
			Cc(sendCc...).
			Bcc(sendBcc...).
			Subject(sendSubject).
			Text(body)
		for _, path := range sendAttach {
			draft = draft.AttachFile(path)
		}

		if saveDraft {
			rd, err := draft.Save(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Draft saved (id %s)\n", rd.ID)
			return nil
		}

		msg, err := draft.Send(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Sent (id %s, thread %s)\n", msg.ID, msg.ThreadID)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringSliceVar(&sendTo, "to", nil, "Recipient (repeatable)")
	sendCmd.Flags().StringSliceVar(&sendCc, "cc", nil, "Carbon-copy recipient (repeatable)")
	sendCmd.Flags().StringSliceVar(&sendBcc, "bcc", nil, "Blind-copy recipient (repeatable)")
	sendCmd.Flags().StringVar(&sendSubject, "subject", "", "Subject line")
	sendCmd.Flags().StringVar(&sendBody, "body", "", "Plain-text body (default: stdin)")
	sendCmd.Flags().StringSliceVar(&sendAttach, "attach", nil, "Attachment file path (repeatable)")
	sendCmd.Flags().BoolVar(&saveDraft, "draft", false, "Store as a draft instead of sending")
	rootCmd.AddCommand(sendCmd)
}
