package config

import (
	"fmt"
	"log/slog"

	"github.com/idlemail/mailhubd/internal/destinations"
	"github.com/idlemail/mailhubd/internal/hub"
	"github.com/idlemail/mailhubd/internal/imapconn"
	"github.com/idlemail/mailhubd/internal/mail"
	"github.com/idlemail/mailhubd/internal/retry"
	"github.com/idlemail/mailhubd/internal/sources"
)

// Build translates a validated configuration document into a runnable Hub.
// It is the only place in the module that knows how a config "type" string
// maps to a concrete Source, Destination, or RetryAgent implementation.
func Build(cfg *Container, logger *slog.Logger) (*hub.Hub, error) {
	mapping := make(map[mail.SourceName][]mail.DestinationName, len(cfg.Mappings))
	for srcName, dstNames := range cfg.Mappings {
		converted := make([]mail.DestinationName, len(dstNames))
		for i, d := range dstNames {
			converted[i] = mail.DestinationName(d)
		}
		mapping[mail.SourceName(srcName)] = converted
	}

	destMap := make(map[mail.DestinationName]hub.Destination, len(cfg.Destinations))
	for name, dc := range cfg.Destinations {
		dest, err := buildDestination(mail.DestinationName(name), dc)
		if err != nil {
			return nil, fmt.Errorf("destination %q: %w", name, err)
		}
		destMap[mail.DestinationName(name)] = dest
	}

	var srcList []hub.Source
	for name, sc := range cfg.Sources {
		src, err := buildSource(mail.SourceName(name), sc, logger)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", name, err)
		}
		srcList = append(srcList, src)
	}

	var retryAgent hub.RetryAgent
	if cfg.RetryAgent != nil {
		switch cfg.RetryAgent.Kind {
		case RetryAgentMemory:
			retryAgent = retry.NewMemory(cfg.RetryAgent.Delay, logger)
		case RetryAgentFilesystem:
			retryAgent = retry.NewFilesystem(cfg.RetryAgent.Path, cfg.RetryAgent.Delay, logger)
		default:
			return nil, fmt.Errorf("retry agent: unknown kind %q", cfg.RetryAgent.Kind)
		}
	}

	return hub.New(hub.NewMappingTable(mapping), srcList, destMap, retryAgent, hub.WithLogger(logger)), nil
}

func buildSource(name mail.SourceName, sc SourceConfig, logger *slog.Logger) (hub.Source, error) {
	switch sc.Kind {
	case SourceTest:
		return sources.NewTest(name), nil

	case SourceImapPoll:
		conn := imapconn.New(fmt.Sprintf("%s:%d", sc.Server, sc.Port), imapconn.Auth{User: sc.Auth.User, Password: sc.Auth.Password})
		return sources.NewPoll(name, conn, sc.Interval, sc.Keep, logger), nil

	case SourceImapIdle:
		conn := imapconn.New(fmt.Sprintf("%s:%d", sc.Server, sc.Port), imapconn.Auth{User: sc.Auth.User, Password: sc.Auth.Password})
		return sources.NewIdle(name, conn, sc.Path, sc.RenewInterval, sc.Keep, logger), nil

	default:
		return nil, fmt.Errorf("unknown kind %q", sc.Kind)
	}
}

func buildDestination(name mail.DestinationName, dc DestinationConfig) (hub.Destination, error) {
	switch dc.Kind {
	case DestinationTest:
		return destinations.NewTest(name, dc.FailNFirst), nil

	case DestinationSmtp:
		var auth *destinations.SMTPAuth
		if dc.Auth != nil {
			auth = &destinations.SMTPAuth{User: dc.Auth.User, Password: dc.Auth.Password}
		}
		return destinations.NewSMTP(name, dc.Server, dc.Port, dc.SSL, auth, dc.Recipient), nil

	case DestinationExec:
		return destinations.NewExec(name, dc.Executable, dc.Arguments, dc.Environment), nil

	default:
		return nil, fmt.Errorf("unknown kind %q", dc.Kind)
	}
}
