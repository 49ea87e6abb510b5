package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `{
  "sources": {
    "inbox": { "type": "test" }
  },
  "destinations": {
    "out": { "type": "test", "failNFirst": 0 }
  },
  "retryagent": { "type": "memory", "delay": 5 },
  "mappings": {
    "inbox": ["out"]
  }
}`

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error for valid config: %v", err)
	}

	if cfg.Sources["inbox"].Kind != SourceTest {
		t.Errorf("expected source kind %q, got %q", SourceTest, cfg.Sources["inbox"].Kind)
	}
	if cfg.Destinations["out"].Kind != DestinationTest {
		t.Errorf("expected destination kind %q, got %q", DestinationTest, cfg.Destinations["out"].Kind)
	}
	if cfg.RetryAgent == nil || cfg.RetryAgent.Kind != RetryAgentMemory {
		t.Errorf("expected a memory retry agent, got %+v", cfg.RetryAgent)
	}
}

func TestLoadRejectsNonJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "this is not json at all")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a non-JSON config file")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	const cfg = `{
		"sources": { "inbox": { "type": "test", "bogus": true } },
		"destinations": { "out": { "type": "test", "failNFirst": 0 } },
		"mappings": { "inbox": ["out"] }
	}`
	path := writeConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unrecognized field")
	}
}

func TestLoadRejectsSourceWithoutMapping(t *testing.T) {
	t.Parallel()

	const cfg = `{
		"sources": { "inbox": { "type": "test" }, "other": { "type": "test" } },
		"destinations": { "out": { "type": "test", "failNFirst": 0 } },
		"mappings": { "inbox": ["out"] }
	}`
	path := writeConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a source with no mapping")
	}
}

func TestLoadRejectsMappingToUnknownDestination(t *testing.T) {
	t.Parallel()

	const cfg = `{
		"sources": { "inbox": { "type": "test" } },
		"destinations": { "out": { "type": "test", "failNFirst": 0 } },
		"mappings": { "inbox": ["ghost"] }
	}`
	path := writeConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a mapping referencing an unknown destination")
	}
}

func TestLoadRejectsPlainAuth(t *testing.T) {
	t.Parallel()

	const cfg = `{
		"sources": {
			"inbox": {
				"type": "imap_poll",
				"server": "imap.example.com",
				"port": 993,
				"interval": 60,
				"keep": true,
				"auth": { "type": "plain", "user": "u", "password": "p" }
			}
		},
		"destinations": { "out": { "type": "test", "failNFirst": 0 } },
		"mappings": { "inbox": ["out"] }
	}`
	path := writeConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for plain auth")
	}
}

func TestLoadRejectsMissingFilesystemRetryPath(t *testing.T) {
	t.Parallel()

	const cfg = `{
		"sources": { "inbox": { "type": "test" } },
		"destinations": { "out": { "type": "test", "failNFirst": 0 } },
		"retryagent": { "type": "filesystem", "delay": 5, "path": "/does/not/exist/anywhere" },
		"mappings": { "inbox": ["out"] }
	}`
	path := writeConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a nonexistent filesystem retry path")
	}
}

func TestLoadAcceptsExistingFilesystemRetryPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := `{
		"sources": { "inbox": { "type": "test" } },
		"destinations": { "out": { "type": "test", "failNFirst": 0 } },
		"retryagent": { "type": "filesystem", "delay": 5, "path": "` + filepath.ToSlash(dir) + `" },
		"mappings": { "inbox": ["out"] }
	}`
	path := writeConfig(t, cfg)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load returned error for a valid filesystem retry path: %v", err)
	}
}
