package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/dealroom/pkg/domain"
)

func newProfileCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage party profiles used by matchmaking",
	}
	cmd.AddCommand(newProfilePutCommand(g))
	return cmd
}

func newProfilePutCommand(g *globalFlags) *cobra.Command {
	var (
		file string
		p    domain.Profile
		role string
	)

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or replace a profile",
		Long: `Create or replace a profile from flags, or from a YAML/JSON file with --file.
Flags given together with --file override the file's fields.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var profile domain.Profile
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				if profile, err = decodeProfile(raw); err != nil {
					return fmt.Errorf("parse profile %s: %w", file, err)
				}
			}
			flags := cmd.Flags()
			override := func(name string, dst *string, v string) {
				if flags.Changed(name) {
					*dst = v
				}
			}
			override("id", &profile.ID, p.ID)
			override("name", &profile.DisplayName, p.DisplayName)
			override("industry", &profile.Industry, p.Industry)
			override("stage", &profile.Stage, p.Stage)
			override("location", &profile.Location, p.Location)
			override("funding", &profile.FundingAmount, p.FundingAmount)
			override("brief", &profile.Brief, p.Brief)
			if flags.Changed("role") {
				profile.Role = domain.Role(role)
			}

			app, err := g.open(true)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Directory.Put(cmd.Context(), profile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s profile %s\n", profile.Role, profile.ID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&file, "file", "f", "", "Profile file (YAML or JSON)")
	flags.StringVar(&p.ID, "id", "", "Party id")
	flags.StringVar(&role, "role", "", "business or investor")
	flags.StringVar(&p.DisplayName, "name", "", "Display name")
	flags.StringVar(&p.Industry, "industry", "", "Industry")
	flags.StringVar(&p.Stage, "stage", "", "Company or fund stage")
	flags.StringVar(&p.Location, "location", "", "Location")
	flags.StringVar(&p.FundingAmount, "funding", "", "Funding sought or ticket size")
	flags.StringVar(&p.Brief, "brief", "", "Short description")
	return cmd
}

// decodeProfile reads YAML (or JSON, which is YAML) keyed like the JSON form
// of domain.Profile.
func decodeProfile(raw []byte) (domain.Profile, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return domain.Profile{}, err
	}
	b, err := json.Marshal(generic)
	if err != nil {
		return domain.Profile{}, err
	}
	var p domain.Profile
	err = json.Unmarshal(b, &p)
	return p, err
}
