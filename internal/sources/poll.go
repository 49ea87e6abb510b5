// Package sources implements the concrete Source kinds the Hub can ingest
// from: periodic IMAP polling, IMAP IDLE push notification, and an
// in-memory test stub.
package sources

import (
	"log/slog"
	"time"

	"github.com/idlemail/mailhubd/internal/hub"
	"github.com/idlemail/mailhubd/internal/imapconn"
	"github.com/idlemail/mailhubd/internal/mail"
)

// Poll is a Source that logs into an IMAP account on a fixed interval,
// recursively lists every mailbox, and emits every unseen message found in
// each one. Unlike Idle, it needs no persistent connection between polls:
// each tick opens whatever session imapconn.Connection has cached (or
// reconnects if needed) and closes nothing explicitly, leaving the
// Connection to manage its own lifetime.
type Poll struct {
	name     mail.SourceName
	conn     *imapconn.Connection
	interval time.Duration
	keep     bool
	logger   *slog.Logger
}

// NewPoll builds an IMAP-Poll source.
func NewPoll(name mail.SourceName, conn *imapconn.Connection, interval time.Duration, keep bool, logger *slog.Logger) *Poll {
	return &Poll{name: name, conn: conn, interval: interval, keep: keep, logger: logger.With("source", string(name))}
}

// Name implements hub.Source.
func (p *Poll) Name() mail.SourceName { return p.name }

// Run implements hub.Source. It polls once immediately, then on every tick
// of interval, until stop fires.
func (p *Poll) Run(ingress chan<- hub.SourceMail, stop hub.StopToken) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ingress)
	for {
		select {
		case <-stop.Done():
			return
		case <-ticker.C:
			p.pollOnce(ingress)
		}
	}
}

func (p *Poll) pollOnce(ingress chan<- hub.SourceMail) {
	mailboxes, err := p.conn.ListMailboxes("")
	if err != nil {
		p.logger.Error("failed to list mailboxes", "error", err)
		return
	}

	for _, mbox := range mailboxes {
		fetches, err := p.conn.IterUnseen(mbox)
		if err != nil {
			p.logger.Error("failed to fetch unseen messages", "mailbox", mbox, "error", err)
			continue
		}
		if len(fetches) == 0 {
			continue
		}

		var uids []uint32
		for _, f := range fetches {
			uids = append(uids, f.UID)
			ingress <- hub.SourceMail{Source: p.name, Mail: mail.New(p.name, f.Body)}
		}

		if !p.keep {
			if err := p.conn.Delete(mbox, uids); err != nil {
				p.logger.Error("failed to delete fetched messages", "mailbox", mbox, "error", err)
			}
		}
	}
}
