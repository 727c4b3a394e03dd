// Package cli implements the tokensvc command line: redeeming exchange
// codes, refreshing, listing and revoking tokens, and reading audit trails.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolchainlabs/tokensvc/pkg/client"
)

var (
	serverAddr  string
	accessToken string
)

var rootCmd = &cobra.Command{
	Use:   "tokensvc",
	Short: "CLI for the tokensvc authentication service",
	Long: `tokensvc manages CI/CLI credentials: redeem browser exchange codes for
refresh tokens, mint access tokens, and inspect or revoke active tokens.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", envOr("TOKENSVC_SERVER", "http://localhost:8080"),
		"Address of the tokensvc server")
	rootCmd.PersistentFlags().StringVar(&accessToken, "access-token", os.Getenv("TOKENSVC_ACCESS_TOKEN"),
		"Access token for authenticated commands")
}

func getClient() *client.Client {
	return client.New(serverAddr)
}

func requireAccessToken() (string, error) {
	if accessToken == "" {
		return "", fmt.Errorf("no access token: pass --access-token or set TOKENSVC_ACCESS_TOKEN")
	}
	return accessToken, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
