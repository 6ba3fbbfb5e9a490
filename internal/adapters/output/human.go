package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/spotispy/internal/core"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct {
	Out io.Writer
}

const progressWidth = 30

var (
	labelStyle   = pterm.NewStyle(pterm.FgGray)
	titleStyle   = pterm.NewStyle(pterm.FgLightWhite, pterm.Bold)
	playingStyle = pterm.NewStyle(pterm.FgGreen, pterm.Bold)
	idleStyle    = pterm.NewStyle(pterm.FgYellow)
	errorStyle   = pterm.NewStyle(pterm.FgRed, pterm.Bold)
)

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	w := writerOrStdout(p.Out)
	switch data := v.(type) {
	case core.NodesResult:
		return printNodes(w, data)
	case core.StatusResult:
		return printStatus(w, data)
	case core.EventResult:
		return printEvent(w, data)
	case core.ConfigResult:
		return printConfig(w, data)
	case core.ColorResult:
		return printColor(w, data)
	case core.RawResult:
		return printRaw(w, data)
	default:
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
}

func printNodes(w io.Writer, result core.NodesResult) error {
	if len(result.Nodes) == 0 {
		_, err := fmt.Fprintln(w, "no nodes")
		return err
	}
	data := pterm.TableData{{"NAME", "NODE_ID", "ONLINE", "LIGHTING"}}
	for _, node := range result.Nodes {
		online := idleStyle.Sprint("no")
		if node.Online {
			online = playingStyle.Sprint("yes")
		}
		lighting := "-"
		if on, ok := node.Caps["lighting"].(bool); ok && on {
			lighting = "yes"
		}
		data = append(data, []string{node.Name, node.NodeID, online, lighting})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, table)
	return err
}

func printStatus(w io.Writer, result core.StatusResult) error {
	state := result.State
	name := result.Node.Name
	if name == "" {
		name = result.Node.NodeID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Sprint(name), labelStyle.Sprintf("(%s)", result.Node.NodeID))
	field(&b, "State", stateStyle(state).Sprint(state.StatusText))
	if state.Track != nil {
		field(&b, "Track", trackLine(*state.Track))
	}
	if state.DeviceName != "" {
		field(&b, "Device", state.DeviceName)
	}
	if state.Track != nil {
		field(&b, "Progress", progressBar(state.Progress))
	}
	if state.ActiveAccount != "" {
		field(&b, "Account", state.ActiveAccount)
	}
	if state.RateLimitedUntil > 0 {
		field(&b, "Backoff", "until "+time.Unix(state.RateLimitedUntil, 0).Format(time.Kitchen))
	}
	if state.Lamp != nil {
		field(&b, "Lamp", lampLine(*state.Lamp))
	}
	rooms := "all devices"
	if len(state.Rooms) > 0 {
		rooms = strings.Join(state.Rooms, ", ")
	}
	field(&b, "Rooms", rooms)
	field(&b, "Accounts", fmt.Sprintf("%d", state.Accounts))

	_, err := fmt.Fprint(w, b.String())
	return err
}

func printEvent(w io.Writer, result core.EventResult) error {
	evt := result.Event
	ts := time.Unix(evt.TS, 0).Format("15:04:05")
	detail := ""
	switch evt.Type {
	case sp.EventSongChanged:
		var body sp.SongChangedBody
		if json.Unmarshal(evt.Body, &body) == nil {
			detail = trackLine(body.Track)
			if body.DeviceName != "" {
				detail += " on " + body.DeviceName
			}
		}
	case sp.EventProgress:
		var body sp.ProgressBody
		if json.Unmarshal(evt.Body, &body) == nil {
			detail = progressBar(body.Percent)
		}
	case sp.EventStatusChanged:
		var body sp.StatusBody
		if json.Unmarshal(evt.Body, &body) == nil {
			detail = body.Text
		}
	case sp.EventAccountRevoked:
		var body sp.AccountRevokedBody
		if json.Unmarshal(evt.Body, &body) == nil {
			detail = errorStyle.Sprint("revoked ") + body.Account
		}
	case sp.EventLampColor:
		var body sp.LampColor
		if json.Unmarshal(evt.Body, &body) == nil {
			detail = lampLine(body)
		}
	}
	_, err := fmt.Fprintf(w, "%s %-18s %s\n", labelStyle.Sprint(ts), evt.Type, detail)
	return err
}

func printConfig(w io.Writer, result core.ConfigResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Sprint("Rooms"), labelStyle.Sprintf("(%s)", result.NodeID))
	if len(result.Config.Rooms) == 0 {
		b.WriteString("  all devices\n")
	}
	for _, room := range result.Config.Rooms {
		fmt.Fprintf(&b, "  %s\n", room)
	}
	b.WriteString(titleStyle.Sprint("Accounts") + "\n")
	if len(result.Config.Accounts) == 0 {
		b.WriteString("  none\n")
	}
	for _, acct := range result.Config.Accounts {
		fmt.Fprintf(&b, "  %d  %s\n", acct.Index, acct.Hint)
	}
	_, err := fmt.Fprint(w, b.String())
	return err
}

func printColor(w io.Writer, result core.ColorResult) error {
	swatch := pterm.NewRGB(result.R, result.G, result.B).Sprint("██")
	_, err := fmt.Fprintf(w, "%s #%s rgb(%d, %d, %d) xy(%.4f, %.4f) bri %.2f\n",
		swatch, result.Hex, result.R, result.G, result.B, result.X, result.Y, result.Bri)
	return err
}

func printRaw(w io.Writer, result core.RawResult) error {
	payload, err := json.MarshalIndent(result.Data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func field(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "  %s %s\n", labelStyle.Sprintf("%-9s", label+":"), value)
}

func stateStyle(state sp.NowPlayingState) *pterm.Style {
	if state.Playing {
		return playingStyle
	}
	if state.State == "rate_limited" {
		return errorStyle
	}
	return idleStyle
}

func trackLine(track sp.TrackInfo) string {
	if track.Artist == "" {
		return track.Title
	}
	return track.Title + " - " + track.Artist
}

func lampLine(lamp sp.LampColor) string {
	hex := strings.TrimPrefix(lamp.Hex, "#")
	return fmt.Sprintf("#%s xy(%.4f, %.4f)", hex, lamp.X, lamp.Y)
}

func progressBar(percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * progressWidth)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", progressWidth-filled) + "]" + fmt.Sprintf(" %3.0f%%", percent)
}
