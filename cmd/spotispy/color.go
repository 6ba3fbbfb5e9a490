package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/spotispy/internal/core"
)

func colorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "color",
		Short:       "Convert colours for the lamp",
		Annotations: map[string]string{"local": "true"},
	}

	xy := &cobra.Command{
		Use:   "xy <r> <g> <b>",
		Short: "Convert 8-bit RGB to lamp xy",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			rgb, err := parseRGB(args)
			if err != nil {
				return err
			}
			return app.printer.Print(app.service.ColorXY(rgb[0], rgb[1], rgb[2]))
		},
	}

	rgb := &cobra.Command{
		Use:   "rgb <x> <y> [brightness]",
		Short: "Convert xy and brightness (0-1) to RGB",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			values, err := parseFloats(args)
			if err != nil {
				return err
			}
			bri := 1.0
			if len(values) == 3 {
				bri = values[2]
			}
			result, err := app.service.ColorRGB(values[0], values[1], bri)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.AddCommand(xy, rgb)
	return cmd
}

func parseRGB(args []string) ([3]uint8, error) {
	var out [3]uint8
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return out, &core.CLIError{Code: core.ExitUsage, Msg: fmt.Sprintf("channel %q must be 0-255", arg)}
		}
		out[i] = uint8(v)
	}
	return out, nil
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, &core.CLIError{Code: core.ExitUsage, Msg: fmt.Sprintf("%q is not a number", arg)}
		}
		out = append(out, v)
	}
	return out, nil
}
