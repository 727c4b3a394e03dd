package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var impersonateCmd = &cobra.Command{
	Use:   "impersonate <user-id>",
	Short: "Mint an access token acting as another user",
	Long: `Mints an access token whose subject is the target user, recording you as
the acting admin. Requires the impersonate audience, org admin rights, and a
target in your own organization.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := requireAccessToken()
		if err != nil {
			return err
		}

		grant, err := getClient().Impersonate(cmd.Context(), tok, args[0])
		if err != nil {
			return err
		}

		// stdout carries only the token, for shell capture
		fmt.Println(grant.AccessToken)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(impersonateCmd)
}
