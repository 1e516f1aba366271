package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/projectledger/internal/identity"
)

func newTokenCmd() *cobra.Command {
	var (
		keyFile string
		issuer  string
		name    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <actor-id>",
		Short: "Mint an actor token from the server's signing key",
		Long: `Token signs an actor token with the same key file ledgerd uses
(auth.key_file). The key must already exist.

  ledgerctl token user-1 --key keys/actor.key --issuer https://ledger.example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := identity.LoadKey(keyFile)
			if err != nil {
				return err
			}
			token, err := identity.NewTokenIssuer(key, issuer, ttl).Issue(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key", "keys/actor.key", "PEM-encoded RSA signing key")
	cmd.Flags().StringVar(&issuer, "issuer", "http://localhost:8080", "issuer; must match the server's auth.issuer")
	cmd.Flags().StringVar(&name, "name", "", "optional display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
