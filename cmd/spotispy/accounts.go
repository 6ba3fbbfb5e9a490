package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/spotispy/internal/core"
)

func accountsCommand() *cobra.Command {
	var node string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage linked Spotify accounts",
	}
	cmd.PersistentFlags().StringVarP(&node, "node", "n", "", "nowplaying node selector")

	list := &cobra.Command{
		Use:   "list",
		Short: "List linked accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			result, err := app.service.Rooms(ctx, node)
			if err != nil {
				return err
			}
			if app.json {
				return app.printer.Print(core.RawResult{Data: result.Config.Accounts})
			}
			return app.printer.Print(result)
		},
	}

	remove := &cobra.Command{
		Use:     "remove <index>",
		Aliases: []string{"rm"},
		Short:   "Unlink the account at index",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return &core.CLIError{Code: core.ExitUsage, Msg: "index must be a number"}
			}
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			result, err := app.service.RemoveAccount(ctx, node, index)
			if err != nil {
				return err
			}
			return printUnlessQuiet(app, result)
		},
	}

	cmd.AddCommand(list, remove)
	return cmd
}
