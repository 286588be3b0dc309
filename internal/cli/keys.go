package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/openmobilesign/linkrelay/internal/link"
)

var generateKeyCmd = &cobra.Command{
	Use:   "generatekey <linkid> <keyname>",
	Short: "Generate a key on the coupled app",
	Long:  `Ask the credential app to generate a fresh key under the given name and wait for the result`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		linkID, keyName := args[0], args[1]

		appLogger.Info("requesting key generation",
			slog.String("linkid", linkID),
			slog.String("keyname", keyName),
		)

		var resp link.GenerateKeyResp
		err := postJSON("/generatekey", &link.GenerateKeyReq{
			LinkID:  linkID,
			KeyName: keyName,
		}, &resp)
		if err != nil {
			return err
		}

		fmt.Printf("keyid:   %s\n", resp.KeyID)
		fmt.Printf("keyname: %s\n", resp.KeyName)
		return nil
	},
}

var listKeysCmd = &cobra.Command{
	Use:   "listkeys <linkid>",
	Short: "List the keys of a coupled account",
	Long:  `List the keys known for the coupled account. The relay must be configured with LIST_KEYS_ENABLED`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp link.ListKeysResp
		if err := postJSON("/listkeys", &link.ListKeysReq{LinkID: args[0]}, &resp); err != nil {
			return err
		}

		if len(resp.Keys) == 0 {
			fmt.Println("no keys")
			return nil
		}
		for _, key := range resp.Keys {
			fmt.Printf("%s\t%s\n", key.KeyID, key.KeyName)
		}
		return nil
	},
}
