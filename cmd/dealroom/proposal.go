package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aretw0/dealroom"
	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/negotiation"
)

// proposalFlags identify the acting party and the snapshot it acts on.
type proposalFlags struct {
	conversation string
	as           string
	expect       int64
	terms        []string
}

func (f *proposalFlags) bind(cmd *cobra.Command, withTerms bool) {
	cmd.Flags().StringVarP(&f.conversation, "conversation", "c", "", "Conversation id")
	cmd.Flags().StringVar(&f.as, "as", "", "Acting party id")
	cmd.Flags().Int64Var(&f.expect, "expect-version", -1, "Proposal version the action is based on (default: current)")
	if withTerms {
		cmd.Flags().StringArrayVarP(&f.terms, "term", "t", nil, "Term as Key=Value (repeatable)")
	}
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("as")
}

// proposalAction runs one transition. terms is nil unless --term was given.
type proposalAction struct {
	use, short string
	withTerms  bool
	// base is the term set --term pairs are applied to.
	base func(current domain.Proposal) []domain.Term
	run  func(ctx context.Context, app *dealroom.App, conv domain.Conversation, actor domain.Party, terms []domain.Term, expected int64) (domain.Proposal, error)
}

var proposalActions = []proposalAction{
	{
		use: "create", short: "Start a proposal (investors only)", withTerms: true,
		base: func(domain.Proposal) []domain.Term { return negotiation.StarterTerms() },
		run: func(ctx context.Context, app *dealroom.App, conv domain.Conversation, actor domain.Party, terms []domain.Term, expected int64) (domain.Proposal, error) {
			return app.Proposals.Create(ctx, conv, actor, terms, expected)
		},
	},
	{
		use: "send", short: "Send the terms and pass the turn", withTerms: true,
		base: func(p domain.Proposal) []domain.Term { return p.Terms },
		run: func(ctx context.Context, app *dealroom.App, conv domain.Conversation, actor domain.Party, terms []domain.Term, expected int64) (domain.Proposal, error) {
			return app.Proposals.Send(ctx, conv, actor, terms, expected)
		},
	},
	{
		use: "accept", short: "Accept the outstanding offer",
		run: func(ctx context.Context, app *dealroom.App, conv domain.Conversation, actor domain.Party, _ []domain.Term, expected int64) (domain.Proposal, error) {
			return app.Proposals.Accept(ctx, conv, actor, expected)
		},
	},
	{
		use: "reject", short: "Reject the outstanding offer",
		run: func(ctx context.Context, app *dealroom.App, conv domain.Conversation, actor domain.Party, _ []domain.Term, expected int64) (domain.Proposal, error) {
			return app.Proposals.Reject(ctx, conv, actor, expected)
		},
	},
	{
		use: "withdraw", short: "Withdraw your outstanding offer",
		run: func(ctx context.Context, app *dealroom.App, conv domain.Conversation, actor domain.Party, _ []domain.Term, expected int64) (domain.Proposal, error) {
			return app.Proposals.Withdraw(ctx, conv, actor, expected)
		},
	},
}

func newProposalCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposal",
		Short: "Drive the proposal of a conversation",
	}
	for _, a := range proposalActions {
		cmd.AddCommand(newProposalActionCommand(g, a))
	}
	cmd.AddCommand(newProposalShowCommand(g))
	return cmd
}

func newProposalActionCommand(g *globalFlags, a proposalAction) *cobra.Command {
	f := &proposalFlags{}

	cmd := &cobra.Command{
		Use:   a.use,
		Short: a.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open(false)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			conv, actor, err := participant(ctx, app, f.conversation, f.as)
			if err != nil {
				return err
			}
			current, err := app.Proposals.Get(ctx, conv.ID)
			if err != nil {
				return err
			}
			expected := current.Version
			if f.expect >= 0 {
				expected = f.expect
			}

			var terms []domain.Term
			if len(f.terms) > 0 {
				if terms, err = parseTerms(a.base(current), f.terms); err != nil {
					return err
				}
			}

			next, err := a.run(ctx, app, conv, actor, terms, expected)
			if err != nil {
				return err
			}
			printProposal(cmd.OutOrStdout(), next)
			return nil
		},
	}
	f.bind(cmd, a.withTerms)
	return cmd
}

func newProposalShowCommand(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <conversation>",
		Short: "Print the current proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open(false)
			if err != nil {
				return err
			}
			defer app.Close()

			p, err := app.Proposals.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), struct {
					domain.Proposal
					Version int64 `json:"version"`
				}{p, p.Version})
			}
			printProposal(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}
