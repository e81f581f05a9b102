package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/aretw0/dealroom/pkg/adapters/lifecycle"
	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/feed"
)

func newMessageCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "message",
		Aliases: []string{"msg"},
		Short:   "Post and read conversation messages",
	}
	cmd.AddCommand(newMessagePostCommand(g), newMessageListCommand(g), newMessageTailCommand(g))
	return cmd
}

func newMessagePostCommand(g *globalFlags) *cobra.Command {
	var convID, as, content string

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open(false)
			if err != nil {
				return err
			}
			defer app.Close()

			conv, sender, err := participant(cmd.Context(), app, convID, as)
			if err != nil {
				return err
			}
			m, err := app.Feed.Post(cmd.Context(), conv, sender, content)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&convID, "conversation", "c", "", "Conversation id")
	cmd.Flags().StringVar(&as, "as", "", "Sender party id")
	cmd.Flags().StringVarP(&content, "content", "m", "", "Message text")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func newMessageListCommand(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list <conversation>",
		Short: "List messages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open(false)
			if err != nil {
				return err
			}
			defer app.Close()

			msgs, err := app.Feed.Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), msgs)
			}
			for _, m := range msgs {
				printMessage(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

// newMessageTailCommand follows the store itself, so it also sees messages
// written by other processes sharing the directory.
func newMessageTailCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tail <conversation>",
		Short: "Print messages as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open(false)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			convID := args[0]
			w := cmd.OutOrStdout()
			seen := make(map[string]bool)
			flush := func() error {
				msgs, err := app.Feed.Messages(ctx, convID)
				if err != nil {
					return err
				}
				for _, m := range msgs {
					if !seen[m.ID] {
						seen[m.ID] = true
						printMessage(w, m)
					}
				}
				return nil
			}

			src := lifecycle.NewWatchSource(app.Store, feed.MessagesPrefix(convID)+"*")
			if err := src.Start(ctx); err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
			for ev := range src.Events() {
				if e, ok := ev.(core.Event); ok && e.Type == core.EventDelete {
					continue
				}
				if err := flush(); err != nil {
					g.logger.Warn("reload messages", "conversation", convID, "error", err)
				}
			}
			return nil
		},
	}
}
