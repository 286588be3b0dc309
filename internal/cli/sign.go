package cli

import (
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/openmobilesign/linkrelay/internal/link"
)

var (
	signDisplayText string
	signKeyName     string
	signFormat      string
	signGenerateNew bool
)

var signCmd = &cobra.Command{
	Use:   "sign <linkid> <data>",
	Short: "Request a signature",
	Long: `Send data to the coupled credential app for signing and wait for the result.

The data argument is signed as given, base64-encode binary content first.
The command blocks until the user acts on the request or the relay times out.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		linkID, data := args[0], args[1]

		appLogger.Info("requesting signature",
			slog.String("linkid", linkID),
			slog.String("keyname", signKeyName),
		)

		var resp link.SignResp
		err := postJSON("/sign", &link.SignReq{
			LinkID:      linkID,
			Data:        base64.StdEncoding.EncodeToString([]byte(data)),
			DisplayText: signDisplayText,
			Format:      signFormat,
			KeyName:     signKeyName,
			GenerateNew: signGenerateNew,
		}, &resp)
		if err != nil {
			return err
		}

		fmt.Printf("signature: %s\n", resp.Signature)
		if resp.KeyID != "" {
			fmt.Printf("keyid:     %s\n", resp.KeyID)
		}
		if resp.Certificate != "" {
			fmt.Printf("cert:      %s\n", resp.Certificate)
		}
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&signDisplayText, "display", "Sign with linkrelay-client", "Text shown to the user in the app")
	signCmd.Flags().StringVar(&signKeyName, "keyname", "", "Name of the key to sign with")
	signCmd.Flags().StringVar(&signFormat, "format", "RAW", "Signature format requested from the app")
	signCmd.Flags().BoolVar(&signGenerateNew, "generate-new", false, "Generate a fresh key and sign with it")
}
