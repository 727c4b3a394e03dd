package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one maintenance pass now",
	Long: `Asks the server to expire overdue tokens, purge terminal tokens past the
retention window, and drop expired exchange codes, without waiting for the
next scheduled pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := requireAccessToken()
		if err != nil {
			return err
		}

		res, err := getClient().Sweep(cmd.Context(), tok)
		if err != nil {
			return err
		}

		fmt.Println("Expired:      ", res.Expired)
		fmt.Println("Deleted:      ", res.Deleted)
		fmt.Println("Codes deleted:", res.CodesDeleted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
