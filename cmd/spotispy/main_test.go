package main

import (
	"testing"

	"github.com/mikey-austin/spotispy/internal/core"
)

func TestParseRGB(t *testing.T) {
	rgb, err := parseRGB([]string{"255", "128", "0"})
	if err != nil {
		t.Fatalf("parseRGB: %v", err)
	}
	if rgb != [3]uint8{255, 128, 0} {
		t.Fatalf("unexpected rgb %v", rgb)
	}
	if _, err := parseRGB([]string{"256", "0", "0"}); core.ExitCode(err) != core.ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestParseFloats(t *testing.T) {
	values, err := parseFloats([]string{"0.3", "0.32"})
	if err != nil || len(values) != 2 || values[1] != 0.32 {
		t.Fatalf("unexpected values %v %v", values, err)
	}
	if _, err := parseFloats([]string{"x"}); core.ExitCode(err) != core.ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestDefaultIdentity(t *testing.T) {
	if got := defaultIdentity("flag", "cfg"); got != "flag" {
		t.Fatalf("got %s", got)
	}
	if got := defaultIdentity("", "cfg"); got != "cfg" {
		t.Fatalf("got %s", got)
	}
	if got := defaultIdentity("", ""); got == "" {
		t.Fatalf("expected fallback identity")
	}
}

func TestColorCommandRunsWithoutBroker(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := rootCommand()
	root.SetArgs([]string{"--json", "color", "xy", "255", "0", "0"})
	if err := root.Execute(); err != nil {
		t.Fatalf("color xy: %v", err)
	}

	root = rootCommand()
	root.SetArgs([]string{"--json", "color", "rgb", "2", "0.3"})
	if err := root.Execute(); core.ExitCode(err) != core.ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRemoteCommandRequiresBroker(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := rootCommand()
	root.SetArgs([]string{"rooms", "list"})
	if err := root.Execute(); core.ExitCode(err) != core.ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestLocalAnnotation(t *testing.T) {
	root := rootCommand()
	color, _, err := root.Find([]string{"color", "xy"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !isLocalCommand(color) {
		t.Fatalf("color xy should be local")
	}
	status, _, err := root.Find([]string{"status"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if isLocalCommand(status) {
		t.Fatalf("status needs a broker")
	}
}
