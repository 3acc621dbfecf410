package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/curatelab/curator/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token <owner>",
	Short: "Issue a backend bearer token for an owner",
	Long: `Sign a bearer token with the backend's JWT secret. Intended for local
development against a backend you run yourself.

Examples:
  curator-agent token alice@example.com --secret $JWT_SECRET
  CURATOR_AGENT_AUTH_SECRET=dev curator-agent token alice --ttl 24h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := cfg.Auth.Secret
		if cmd.Flags().Changed("secret") {
			secret, _ = cmd.Flags().GetString("secret")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")

		verifier := auth.NewVerifier(auth.Config{
			Secret: secret,
			Issuer: cfg.Auth.Issuer,
			TTL:    ttl,
		})
		token, err := verifier.Issue(args[0])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("secret", "", "JWT signing secret (defaults to auth.secret)")
	tokenCmd.Flags().Duration("ttl", 30*24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
