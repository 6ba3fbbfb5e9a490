package main

import (
	"context"

	"github.com/spf13/cobra"
)

func nextCommand() *cobra.Command {
	return playbackCommand("next", "Skip to the next track")
}

func prevCommand() *cobra.Command {
	return playbackCommand("prev", "Go back to the previous track")
}

func pauseCommand() *cobra.Command {
	return playbackCommand("pause", "Pause playback")
}

func playbackCommand(action string, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [node]",
		Short: short,
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			selector := ""
			if len(args) == 1 {
				selector = args[0]
			}
			return app.service.Playback(ctx, selector, action)
		},
	}
}
