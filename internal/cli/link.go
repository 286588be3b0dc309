package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/openmobilesign/linkrelay/internal/link"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Create a new link",
	Long:  `Request a fresh linkid with a coupling code the end user enters in their credential app`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp link.LinkResp
		if err := postJSON("/link", struct{}{}, &resp); err != nil {
			return err
		}

		appLogger.Info("link created", slog.String("linkid", resp.LinkID))

		fmt.Printf("linkid:        %s\n", resp.LinkID)
		fmt.Printf("coupling code: %s\n", resp.CouplingCode)
		fmt.Println("enter the coupling code in the credential app to finish coupling")
		return nil
	},
}
