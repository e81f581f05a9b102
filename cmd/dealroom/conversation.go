package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/dealroom/pkg/domain"
)

func newConversationCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Create and inspect conversations",
	}
	cmd.AddCommand(newConversationCreateCommand(g), newConversationShowCommand(g))
	return cmd
}

func newConversationCreateCommand(g *globalFlags) *cobra.Command {
	var id, businessID, investorID string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a conversation between a business and an investor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open(true)
			if err != nil {
				return err
			}
			defer app.Close()

			conv, err := app.Conversations.Create(cmd.Context(),
				id,
				domain.Party{ID: businessID, Role: domain.RoleBusiness},
				domain.Party{ID: investorID, Role: domain.RoleInvestor},
			)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Conversation id (generated when empty)")
	cmd.Flags().StringVar(&businessID, "business", "", "Business party id")
	cmd.Flags().StringVar(&investorID, "investor", "", "Investor party id")
	_ = cmd.MarkFlagRequired("business")
	_ = cmd.MarkFlagRequired("investor")
	return cmd
}

func newConversationShowCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation with its proposal and messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open(false)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			conv, err := app.Conversations.Get(ctx, args[0])
			if err != nil {
				return err
			}
			p, err := app.Proposals.Get(ctx, conv.ID)
			if err != nil {
				return err
			}
			msgs, err := app.Feed.Messages(ctx, conv.ID)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "conversation %s\n", conv.ID)
			for _, party := range conv.Participants {
				fmt.Fprintf(w, "  %s (%s)\n", party.ID, party.Role)
			}
			fmt.Fprintln(w)
			printProposal(w, p)
			fmt.Fprintf(w, "\n%d messages\n", len(msgs))
			return nil
		},
	}
}
