package main

import (
	"context"

	"github.com/spf13/cobra"
)

func roomsCommand() *cobra.Command {
	var node string

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Manage the device allow-list",
	}
	cmd.PersistentFlags().StringVarP(&node, "node", "n", "", "nowplaying node selector")

	list := &cobra.Command{
		Use:   "list",
		Short: "List allowed rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			result, err := app.service.Rooms(ctx, node)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	add := &cobra.Command{
		Use:   "add <room>...",
		Short: "Allow rooms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			result, err := app.service.AddRooms(ctx, node, args)
			if err != nil {
				return err
			}
			return printUnlessQuiet(app, result)
		},
	}

	remove := &cobra.Command{
		Use:     "remove <room>...",
		Aliases: []string{"rm"},
		Short:   "Remove rooms",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			result, err := app.service.RemoveRooms(ctx, node, args)
			if err != nil {
				return err
			}
			return printUnlessQuiet(app, result)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Allow every device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			result, err := app.service.SetRooms(ctx, node, []string{})
			if err != nil {
				return err
			}
			return printUnlessQuiet(app, result)
		},
	}

	cmd.AddCommand(list, add, remove, clearCmd)
	return cmd
}
