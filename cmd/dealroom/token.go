package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/dealroom/pkg/domain"
)

func newTokenCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue session tokens for local use",
	}
	cmd.AddCommand(newTokenIssueCommand(g))
	return cmd
}

func newTokenIssueCommand(g *globalFlags) *cobra.Command {
	var (
		party domain.Party
		role  string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token for a party with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			party.Role = r

			app, err := g.open(false)
			if err != nil {
				return err
			}
			defer app.Close()

			issuer, err := app.Issuer()
			if err != nil {
				return err
			}
			token, err := issuer.Issue(party, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&party.ID, "as", "", "Party id")
	cmd.Flags().StringVar(&role, "role", "", "business or investor")
	cmd.Flags().StringVar(&party.DisplayName, "name", "", "Display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
