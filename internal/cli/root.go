package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openmobilesign/linkrelay/internal/logger"
	"github.com/openmobilesign/linkrelay/internal/version"
)

var (
	serverURL string
	appLogger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:               "linkrelay-client",
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	Short:             "Relying-party CLI for the signature relay",
	Long:              `linkrelay-client exercises the Link API of a relay server: couple accounts, request signatures and manage keys`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		appLogger = logger.InitLogger(logger.ParseLogLevel(os.Getenv("LOG_LEVEL")), "dev")
		return nil
	},
}

func Execute() {
	v := version.Get()
	rootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Relay server base URL")

	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(generateKeyCmd)
	rootCmd.AddCommand(listKeysCmd)
}
