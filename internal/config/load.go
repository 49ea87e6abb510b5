package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// sniffJSON reports whether raw looks like a JSON document: its first
// non-whitespace byte opens an object or array. The original daemon this
// one is descended from used a general-purpose MIME sniffer for this
// check; Go's ecosystem equivalents only recognize content types from a
// fixed registry that doesn't include JSON, so a direct byte inspection
// replaces it here.
func sniffJSON(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return false
	}
	return trimmed[0] == '{' || trimmed[0] == '['
}

// Load reads, sniffs, schema-validates, parses, and cross-validates the
// configuration document at path.
func Load(path string) (*Container, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if !sniffJSON(raw) {
		return nil, fmt.Errorf("%s does not look like a JSON document", path)
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("config file failed schema validation: %w", err)
	}

	var cfg Container
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-references the JSON Schema can't express:
// every mapping references sources and destinations that actually exist,
// every source has a mapping, no auth method is "plain", and a filesystem
// retry agent's directory exists.
func (c *Container) Validate() error {
	for srcName, dsts := range c.Mappings {
		if _, ok := c.Sources[srcName]; !ok {
			return fmt.Errorf("mapping references unknown source %q", srcName)
		}
		for _, dstName := range dsts {
			if _, ok := c.Destinations[dstName]; !ok {
				return fmt.Errorf("mapping for source %q references unknown destination %q", srcName, dstName)
			}
		}
	}

	for srcName := range c.Sources {
		if _, ok := c.Mappings[srcName]; !ok {
			return fmt.Errorf("source %q has no mapping", srcName)
		}
	}

	for name, src := range c.Sources {
		if src.Kind != SourceImapPoll && src.Kind != SourceImapIdle {
			continue
		}
		if src.Auth.Kind == AuthPlain {
			return fmt.Errorf("source %q: auth type \"plain\" is not supported", name)
		}
	}
	for name, dst := range c.Destinations {
		if dst.Kind == DestinationSmtp && dst.Auth != nil && dst.Auth.Kind == AuthPlain {
			return fmt.Errorf("destination %q: auth type \"plain\" is not supported", name)
		}
	}

	if c.RetryAgent != nil && c.RetryAgent.Kind == RetryAgentFilesystem {
		info, err := os.Stat(c.RetryAgent.Path)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("filesystem retry agent: path %q does not exist", c.RetryAgent.Path)
		}
	}

	return nil
}
