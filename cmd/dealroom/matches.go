package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/dealroom/pkg/domain"
)

// matchFlags name the searching party. A party always searches as the role
// of its own profile.
type matchFlags struct {
	as   string
	role string
}

func (f *matchFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.as, "as", "", "Party id")
	cmd.Flags().StringVar(&f.role, "role", "", "Role of the party's profile (business or investor)")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("role")
}

func newMatchesCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matches",
		Short: "Find scored counterparts",
	}
	cmd.AddCommand(newMatchesFindCommand(g), newMatchesClearCommand(g))
	return cmd
}

func newMatchesFindCommand(g *globalFlags) *cobra.Command {
	f := &matchFlags{}
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Print matches, from the cache when still fresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domain.ParseRole(f.role)
			if err != nil {
				return err
			}
			app, err := g.open(false)
			if err != nil {
				return err
			}
			defer app.Close()

			finder, err := app.MatchFinder()
			if err != nil {
				return err
			}
			self, err := app.Directory.Get(cmd.Context(), role, f.as)
			if err != nil {
				return err
			}
			entry, err := finder.FindMatches(cmd.Context(), self, role)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), entry)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d matches for %s (fetched %s)\n", len(entry.Matches), entry.OwnerPartyID, entry.Fetched().Format("2006-01-02 15:04:05"))
			for _, m := range entry.Matches {
				fmt.Fprintf(w, "  %5.1f  %s  %s\n", m.Score, m.CounterpartID, m.Rationale)
			}
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newMatchesClearCommand(g *globalFlags) *cobra.Command {
	f := &matchFlags{}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached matches so the next search rescores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domain.ParseRole(f.role)
			if err != nil {
				return err
			}
			app, err := g.open(false)
			if err != nil {
				return err
			}
			defer app.Close()

			finder, err := app.MatchFinder()
			if err != nil {
				return err
			}
			self := domain.Profile{ID: f.as, Role: role}
			if err := finder.ClearCache(cmd.Context(), self, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s matches for %s\n", role, f.as)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}
