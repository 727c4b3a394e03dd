package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshSecret string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Mint a fresh access token from a refresh token",
	Long: `Exchanges a refresh-token secret for a short-lived access token. The access
token is printed to stdout so it can be captured by scripts:

  export TOKENSVC_ACCESS_TOKEN=$(tokensvc refresh --refresh-token "$RT")`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := refreshSecret
		if secret == "" {
			var err error
			secret, err = promptSecret("Refresh token")
			if err != nil {
				return err
			}
		}

		grant, err := getClient().Refresh(cmd.Context(), secret)
		if err != nil {
			return err
		}

		// stdout carries only the token, for shell capture
		fmt.Println(grant.AccessToken)
		return nil
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshSecret, "refresh-token", "", "Refresh-token secret")
	rootCmd.AddCommand(refreshCmd)
}
