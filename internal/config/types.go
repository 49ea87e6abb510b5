// Package config loads and validates the daemon's JSON configuration
// document and builds a runnable hub.Hub from it.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuthKind discriminates an AuthMethod's "type" field.
type AuthKind string

const (
	AuthLogin AuthKind = "login"
	AuthPlain AuthKind = "plain"
)

// AuthMethod is the tagged union for IMAP/SMTP authentication. Plain is
// parsed (so a config file using it produces a clear validation error
// rather than a parse error) but is rejected by Validate for both sources
// and SMTP destinations; the IMAP connection authenticates only with the
// LOGIN command.
type AuthMethod struct {
	Kind     AuthKind
	User     string
	Password string
}

func (a *AuthMethod) UnmarshalJSON(data []byte) error {
	var v struct {
		Type     string `json:"type"`
		User     string `json:"user"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch AuthKind(v.Type) {
	case AuthLogin, AuthPlain:
		a.Kind = AuthKind(v.Type)
	default:
		return fmt.Errorf("unknown auth type %q", v.Type)
	}
	a.User = v.User
	a.Password = v.Password
	return nil
}

// SourceKind discriminates a SourceConfig's "type" field.
type SourceKind string

const (
	SourceTest     SourceKind = "test"
	SourceImapPoll SourceKind = "imap_poll"
	SourceImapIdle SourceKind = "imap_idle"
)

// SourceConfig is the tagged union of every configurable source kind. Only
// the fields relevant to Kind are populated.
type SourceConfig struct {
	Kind SourceKind

	// imap_poll, imap_idle
	Server string
	Port   int
	Auth   AuthMethod
	Keep   bool

	// imap_poll
	Interval time.Duration

	// imap_idle
	Path          string
	RenewInterval time.Duration
}

func (s *SourceConfig) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	switch SourceKind(head.Type) {
	case SourceTest:
		s.Kind = SourceTest

	case SourceImapPoll:
		var v struct {
			Server   string     `json:"server"`
			Port     int        `json:"port"`
			Interval int64      `json:"interval"`
			Keep     bool       `json:"keep"`
			Auth     AuthMethod `json:"auth"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		s.Kind = SourceImapPoll
		s.Server, s.Port, s.Keep, s.Auth = v.Server, v.Port, v.Keep, v.Auth
		s.Interval = time.Duration(v.Interval) * time.Second

	case SourceImapIdle:
		var v struct {
			Server        string     `json:"server"`
			Port          int        `json:"port"`
			Path          string     `json:"path"`
			RenewInterval int64      `json:"renewinterval"`
			Keep          bool       `json:"keep"`
			Auth          AuthMethod `json:"auth"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		s.Kind = SourceImapIdle
		s.Server, s.Port, s.Path, s.Keep, s.Auth = v.Server, v.Port, v.Path, v.Keep, v.Auth
		s.RenewInterval = time.Duration(v.RenewInterval) * time.Second

	default:
		return fmt.Errorf("unknown source type %q", head.Type)
	}
	return nil
}

// DestinationKind discriminates a DestinationConfig's "type" field.
type DestinationKind string

const (
	DestinationTest DestinationKind = "test"
	DestinationSmtp DestinationKind = "smtp"
	DestinationExec DestinationKind = "exec"
)

// DestinationConfig is the tagged union of every configurable destination
// kind. Only the fields relevant to Kind are populated.
type DestinationConfig struct {
	Kind DestinationKind

	// test
	FailNFirst int

	// smtp
	Server    string
	Port      int
	SSL       bool
	Auth      *AuthMethod
	Recipient string

	// exec
	Executable  string
	Arguments   []string
	Environment map[string]string
}

func (d *DestinationConfig) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	switch DestinationKind(head.Type) {
	case DestinationTest:
		var v struct {
			FailNFirst int `json:"failNFirst"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		d.Kind = DestinationTest
		d.FailNFirst = v.FailNFirst

	case DestinationSmtp:
		var v struct {
			Server    string      `json:"server"`
			Port      int         `json:"port"`
			SSL       bool        `json:"ssl"`
			Auth      *AuthMethod `json:"auth"`
			Recipient string      `json:"recipient"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		d.Kind = DestinationSmtp
		d.Server, d.Port, d.SSL, d.Auth, d.Recipient = v.Server, v.Port, v.SSL, v.Auth, v.Recipient

	case DestinationExec:
		var v struct {
			Executable  string            `json:"executable"`
			Arguments   []string          `json:"arguments"`
			Environment map[string]string `json:"environment"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		d.Kind = DestinationExec
		d.Executable, d.Arguments, d.Environment = v.Executable, v.Arguments, v.Environment

	default:
		return fmt.Errorf("unknown destination type %q", head.Type)
	}
	return nil
}

// RetryAgentKind discriminates a RetryAgentConfig's "type" field.
type RetryAgentKind string

const (
	RetryAgentMemory     RetryAgentKind = "memory"
	RetryAgentFilesystem RetryAgentKind = "filesystem"
)

// RetryAgentConfig is the tagged union of the two configurable retry agent
// kinds.
type RetryAgentConfig struct {
	Kind  RetryAgentKind
	Delay time.Duration
	Path  string // filesystem only
}

func (r *RetryAgentConfig) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	switch RetryAgentKind(head.Type) {
	case RetryAgentMemory:
		var v struct {
			Delay int64 `json:"delay"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		r.Kind = RetryAgentMemory
		r.Delay = time.Duration(v.Delay) * time.Second

	case RetryAgentFilesystem:
		var v struct {
			Delay int64  `json:"delay"`
			Path  string `json:"path"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		r.Kind = RetryAgentFilesystem
		r.Delay = time.Duration(v.Delay) * time.Second
		r.Path = v.Path

	default:
		return fmt.Errorf("unknown retry agent type %q", head.Type)
	}
	return nil
}

// Container is the top-level configuration document.
type Container struct {
	Destinations map[string]DestinationConfig `json:"destinations"`
	Sources      map[string]SourceConfig      `json:"sources"`
	RetryAgent   *RetryAgentConfig            `json:"retryagent"`
	Mappings     map[string][]string          `json:"mappings"`
}
