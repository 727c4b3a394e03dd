package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var tokensUserID string

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage active refresh tokens",
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active refresh tokens",
	Long: `Lists your active refresh tokens. Org admins can pass --user to list
another user of the same organization.`,
	Example: "  tokensvc tokens list\n  tokensvc tokens list --user u-1234",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := requireAccessToken()
		if err != nil {
			return err
		}

		tokens, err := getClient().ListTokens(cmd.Context(), tok, tokensUserID)
		if err != nil {
			return err
		}

		if len(tokens) == 0 {
			fmt.Println("No active tokens.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Kind", "Repo", "Audience", "Provider", "Issued", "Expires", "Last seen"})

		bold := color.New(color.Bold).SprintFunc()
		faint := color.New(color.Faint).SprintfFunc()

		for _, rt := range tokens {
			lastSeen := "never"
			if rt.LastSeen != nil {
				lastSeen = rt.LastSeen.Format(time.RFC3339)
			}
			timeLeft := time.Until(rt.ExpiresAt).Round(time.Minute)
			t.AppendRow(table.Row{
				bold(rt.TokenID),
				rt.Kind,
				rt.RepoID,
				strings.Join(rt.Audience, ","),
				rt.Provider,
				rt.IssuedAt.Format(time.RFC3339),
				fmt.Sprintf("%s (%s)", rt.ExpiresAt.Format("2006-01-02"), faint(timeLeft.String())),
				lastSeen,
			})
		}

		s := table.StyleRounded
		s.Format.Header = text.FormatDefault
		t.SetStyle(s)
		t.Render()
		return nil
	},
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Revoke a refresh token",
	Long: `Revokes a refresh token. Access tokens already minted from it stop working
within the propagation window. Revoking an already revoked token succeeds.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := requireAccessToken()
		if err != nil {
			return err
		}

		if err := getClient().Revoke(cmd.Context(), tok, args[0]); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Println(green("Revoked"), args[0])
		return nil
	},
}

func init() {
	tokensListCmd.Flags().StringVar(&tokensUserID, "user", "", "List tokens of another user (admins only)")
	tokensCmd.AddCommand(tokensListCmd)
	tokensCmd.AddCommand(tokensRevokeCmd)
	rootCmd.AddCommand(tokensCmd)
}
