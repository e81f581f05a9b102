package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/dealroom"
	"github.com/aretw0/dealroom/internal/config"
	"github.com/aretw0/dealroom/internal/platform"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	verbose    bool
	configPath string
	storePath  string
	adapter    string
	versioning string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "dealroom",
		Short: "Collaborative negotiation between businesses and investors",
		Long: `dealroom keeps conversations, proposals and messages in a document store
and serves live negotiation sessions over websockets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if g.verbose {
				level = slog.LevelDebug
			}
			g.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(g.logger)
			return g.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Enable verbose logging")
	pf.StringVar(&g.configPath, "config", "", "YAML config file")
	pf.StringVar(&g.storePath, "path", "", "Store directory (overrides config)")
	pf.StringVar(&g.adapter, "adapter", "", "Storage adapter: fs or memory (overrides config)")
	pf.StringVar(&g.versioning, "versioning", "", "Git versioning: auto, on or off (overrides config)")

	root.AddCommand(
		newServeCommand(g),
		newConversationCommand(g),
		newProposalCommand(g),
		newMessageCommand(g),
		newMatchesCommand(g),
		newProfileCommand(g),
		newTokenCommand(g),
		newVersionCommand(),
	)
	return root
}

// load resolves the configuration. Without --path and --config the store
// root is searched upwards from the working directory.
func (g *globalFlags) load(cmd *cobra.Command) error {
	if g.configPath == "" {
		if _, err := os.Stat("dealroom.yaml"); err == nil {
			g.configPath = "dealroom.yaml"
		}
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("path") {
		cfg.StorePath = g.storePath
	} else if g.configPath == "" && os.Getenv("DEALROOM_STORE_PATH") == "" {
		if root, err := platform.FindRoot("."); err == nil {
			cfg.StorePath = root
		}
	}
	if flags.Changed("adapter") {
		cfg.Adapter = g.adapter
	}
	if flags.Changed("versioning") {
		cfg.Versioning = g.versioning
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.cfg = cfg
	return nil
}

// open wires the app. autoInit creates a missing store.
func (g *globalFlags) open(autoInit bool) (*dealroom.App, error) {
	app, err := dealroom.Open(g.cfg, dealroom.WithLogger(g.logger), dealroom.WithAutoInit(autoInit))
	if err != nil {
		return nil, fmt.Errorf("open dealroom at %s: %w", g.cfg.StorePath, err)
	}
	return app, nil
}
