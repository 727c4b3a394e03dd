package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var loginCode string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Redeem an exchange code for a refresh token",
	Long: `Redeems a single-use exchange code (minted in the web UI) for a long-lived
refresh token. The code can be passed with --code or entered interactively.

The refresh token is printed once and cannot be recovered later.`,
	Example: "  tokensvc login --code 4f2a…",
	RunE: func(cmd *cobra.Command, args []string) error {
		code := loginCode
		if code == "" {
			var err error
			code, err = promptSecret("Exchange code")
			if err != nil {
				return err
			}
		}

		issued, err := getClient().Exchange(cmd.Context(), code)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()

		fmt.Println(green("Token issued."))
		fmt.Println("Token ID:     ", issued.TokenID)
		fmt.Println("Audience:     ", strings.Join(issued.Audience, ", "))
		fmt.Println("Expires:      ", issued.ExpiresAt.Format("2006-01-02 15:04 MST"))
		fmt.Println("Refresh token:", issued.RefreshToken)
		fmt.Println(faint("Store the refresh token now; it will not be shown again."))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginCode, "code", "", "Exchange code from the web UI")
	rootCmd.AddCommand(loginCmd)
}
