package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mikey-austin/spotispy/internal/ports"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

// Resolver resolves selectors to node presence.
type Resolver struct {
	Presence ports.Broker
	Config   Config
}

// KindNowPlaying is the presence kind published by nowplaying nodes.
const KindNowPlaying = "nowplaying"

// ResolveNowPlaying resolves a nowplaying node selector using config defaults.
// With no selector and no default, the single online node is chosen.
func (r Resolver) ResolveNowPlaying(ctx context.Context, selector string) (sp.Presence, error) {
	return r.resolveByKind(ctx, selector, KindNowPlaying, r.Config.Defaults.Node)
}

func (r Resolver) resolveByKind(ctx context.Context, selector string, kind string, def string) (sp.Presence, error) {
	if selector == "" {
		selector = def
	}

	presence, err := r.Presence.ListPresence(ctx)
	if err != nil {
		return sp.Presence{}, WrapError(ExitRuntime, "list presence", err)
	}

	filtered := filterPresenceByKind(presence, kind)
	if selector == "" {
		online := filterOnline(filtered)
		switch len(online) {
		case 1:
			return online[0], nil
		case 0:
			return sp.Presence{}, &CLIError{Code: ExitNotFound, Msg: "no " + kind + " node online"}
		}
		return sp.Presence{}, &CLIError{Code: ExitUsage, Msg: "selector required: " + suggestionList(online)}
	}
	return resolveSelector(selector, filtered, r.Config.Aliases)
}

func filterPresenceByKind(presence []sp.Presence, kind string) []sp.Presence {
	if kind == "" {
		return presence
	}
	out := make([]sp.Presence, 0, len(presence))
	for _, p := range presence {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func filterOnline(presence []sp.Presence) []sp.Presence {
	out := make([]sp.Presence, 0, len(presence))
	for _, p := range presence {
		if p.Online {
			out = append(out, p)
		}
	}
	return out
}

func resolveSelector(selector string, presence []sp.Presence, aliases map[string]string) (sp.Presence, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return sp.Presence{}, &CLIError{Code: ExitUsage, Msg: "selector required"}
	}

	if strings.HasPrefix(selector, "sp:") {
		return resolveExact(selector, presence)
	}

	if alias, ok := aliases[selector]; ok {
		if strings.HasPrefix(alias, "sp:") {
			return resolveExact(alias, presence)
		}
		selector = alias
	}

	matches := make([]sp.Presence, 0)
	for _, p := range presence {
		if strings.EqualFold(p.Name, selector) || strings.EqualFold(p.NodeID, selector) {
			matches = append(matches, p)
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) == 0 {
		return sp.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no match for %q", selector)}
	}
	return sp.Presence{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("ambiguous selector %q: %s", selector, suggestionList(matches))}
}

func resolveExact(nodeID string, presence []sp.Presence) (sp.Presence, error) {
	for _, p := range presence {
		if p.NodeID == nodeID {
			return p, nil
		}
	}
	return sp.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("node not found: %s", nodeID)}
}

func suggestionList(matches []sp.Presence) string {
	names := make([]string, 0, len(matches))
	for _, p := range matches {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.NodeID))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
