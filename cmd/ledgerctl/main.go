package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	authToken string
	actorID   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Project ledger CLI",
		Long: `ledgerctl appends events to project ledgers, prints their timelines,
and checks that a project's history has not been altered.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ledger/config.yaml)")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "ledgerd base URL (default http://localhost:8080)")
	root.PersistentFlags().StringVar(&authToken, "token", "", "actor token for writes (env LEDGER_TOKEN)")
	root.PersistentFlags().StringVar(&actorID, "actor", "", "actor id sent as X-Actor-ID when the server does not use tokens")

	root.AddCommand(
		newAppendCmd(),
		newTimelineCmd(),
		newVerifyCmd(),
		newTokenCmd(),
		newAuditCmd(),
		newVersionCmd(),
	)
	return root
}

func loadConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(home + "/.ledger")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("ledger")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if serverURL == "" {
		serverURL = viper.GetString("server")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	if authToken == "" {
		authToken = viper.GetString("token")
	}
	if actorID == "" {
		actorID = viper.GetString("actor")
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ledgerctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ledgerctl %s\n", version)
		},
	}
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
