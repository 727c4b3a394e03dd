package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var codesRepoID string

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Manage exchange codes",
}

var codesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a single-use exchange code",
	Long: `Mints a single-use exchange code bound to a repository. Requires a UI
session token; the code is redeemed once with 'tokensvc login'.`,
	Example: "  tokensvc codes create --repo acme/widgets",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := requireAccessToken()
		if err != nil {
			return err
		}
		if codesRepoID == "" {
			return fmt.Errorf("--repo is required")
		}

		code, err := getClient().CreateCode(cmd.Context(), tok, codesRepoID)
		if err != nil {
			return err
		}

		faint := color.New(color.Faint).SprintFunc()
		fmt.Println("Code:   ", code.Code)
		fmt.Println("Expires:", code.ExpiresAt.Format("15:04:05 MST"))
		fmt.Println(faint("The code is single use and expires shortly."))
		return nil
	},
}

func init() {
	codesCreateCmd.Flags().StringVar(&codesRepoID, "repo", "", "Repository the code is bound to")
	codesCmd.AddCommand(codesCreateCmd)
	rootCmd.AddCommand(codesCmd)
}
