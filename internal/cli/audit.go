package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var auditTokenID string

var auditCmd = &cobra.Command{
	Use:     "audit",
	Short:   "Show recent audit events",
	Long:    `Shows recent token lifecycle events, or the full trail of one token with --token.`,
	Example: "  tokensvc audit\n  tokensvc audit --token rt-1234",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := requireAccessToken()
		if err != nil {
			return err
		}

		events, err := getClient().AuditEvents(cmd.Context(), tok, auditTokenID)
		if err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("No events.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Time", "Action", "Actor", "Token", "Details"})

		for _, e := range events {
			details := ""
			for k, v := range e.Details {
				if details != "" {
					details += " "
				}
				details += k + "=" + v
			}
			t.AppendRow(table.Row{
				e.Time.Format(time.RFC3339),
				e.Action,
				e.Actor,
				e.TokenID,
				details,
			})
		}

		s := table.StyleRounded
		s.Format.Header = text.FormatDefault
		t.SetStyle(s)
		t.Render()
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditTokenID, "token", "", "Show the trail of one token")
	rootCmd.AddCommand(auditCmd)
}
