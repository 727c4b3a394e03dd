package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	ciProvider string
	ciProof    string
)

var ciCmd = &cobra.Command{
	Use:   "ci",
	Short: "Mint a refresh token from a CI identity proof",
	Long: `Trades a CI identity proof (an OIDC id token or a GitHub token) for a
refresh token, according to the server's issuance policy.`,
	Example: `  tokensvc ci --provider gha --proof "$ACTIONS_ID_TOKEN"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ciProvider == "" || ciProof == "" {
			return fmt.Errorf("both --provider and --proof are required")
		}

		issued, err := getClient().ResolveCI(cmd.Context(), ciProvider, ciProof)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Println(green("Token issued."))
		fmt.Println("Token ID:     ", issued.TokenID)
		fmt.Println("Audience:     ", strings.Join(issued.Audience, ", "))
		fmt.Println("Refresh token:", issued.RefreshToken)
		return nil
	},
}

func init() {
	ciCmd.Flags().StringVar(&ciProvider, "provider", "", "Provider name from the server policy")
	ciCmd.Flags().StringVar(&ciProof, "proof", "", "Identity proof to verify")
	rootCmd.AddCommand(ciCmd)
}
