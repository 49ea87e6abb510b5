package config

import (
	"io"
	"log/slog"
	"testing"
)

func TestBuildWiresTestSourceToTestDestination(t *testing.T) {
	t.Parallel()

	cfg := &Container{
		Sources:      map[string]SourceConfig{"inbox": {Kind: SourceTest}},
		Destinations: map[string]DestinationConfig{"out": {Kind: DestinationTest, FailNFirst: 0}},
		Mappings:     map[string][]string{"inbox": {"out"}},
	}

	h, err := Build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if h == nil {
		t.Fatal("Build returned a nil Hub")
	}
}

func TestBuildRejectsUnknownSourceKind(t *testing.T) {
	t.Parallel()

	cfg := &Container{
		Sources:      map[string]SourceConfig{"inbox": {Kind: "bogus"}},
		Destinations: map[string]DestinationConfig{"out": {Kind: DestinationTest}},
		Mappings:     map[string][]string{"inbox": {"out"}},
	}

	if _, err := Build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected an error for an unknown source kind")
	}
}
