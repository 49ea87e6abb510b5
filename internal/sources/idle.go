package sources

import (
	"log/slog"
	"math"
	"time"

	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"

	"github.com/idlemail/mailhubd/internal/hub"
	"github.com/idlemail/mailhubd/internal/imapconn"
	"github.com/idlemail/mailhubd/internal/mail"
)

// Idle is a Source that keeps one IMAP connection in IDLE mode against a
// single mailbox, emitting every unseen message whenever the server reports
// new mail. It does one unseen-check immediately after connecting (in case
// mail arrived before IDLE was established) and again every time IDLE wakes
// up, then re-enters IDLE. On any error it reconnects with exponential
// backoff, capped at renewInterval so a flapping server is retried no less
// often than a healthy one is kept alive.
type Idle struct {
	name          mail.SourceName
	conn          *imapconn.Connection
	mailbox       string
	renewInterval time.Duration
	keep          bool
	logger        *slog.Logger
}

// NewIdle builds an IMAP-Idle source.
func NewIdle(name mail.SourceName, conn *imapconn.Connection, mailbox string, renewInterval time.Duration, keep bool, logger *slog.Logger) *Idle {
	return &Idle{name: name, conn: conn, mailbox: mailbox, renewInterval: renewInterval, keep: keep, logger: logger.With("source", string(name))}
}

// Name implements hub.Source.
func (s *Idle) Name() mail.SourceName { return s.name }

// Run implements hub.Source.
func (s *Idle) Run(ingress chan<- hub.SourceMail, stop hub.StopToken) {
	attempt := 0
	for {
		select {
		case <-stop.Done():
			return
		default:
		}

		if err := s.runOnce(ingress, stop); err != nil {
			attempt++
			delay := backoff(attempt, s.renewInterval)
			s.logger.Error("idle session ended, reconnecting", "error", err, "delay", delay)
			select {
			case <-time.After(delay):
			case <-stop.Done():
				return
			}
			continue
		}
		attempt = 0
	}
}

// backoff grows geometrically with attempt, capped at ceiling.
func backoff(attempt int, ceiling time.Duration) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

// runOnce connects, drains any unseen mail accumulated before IDLE starts,
// then sits in IDLE until the server reports activity, the renew interval
// elapses, or stop fires. It returns nil when stop fired or the renew
// interval elapsed; a non-nil error is one the caller should reconnect from.
func (s *Idle) runOnce(ingress chan<- hub.SourceMail, stop hub.StopToken) error {
	s.fetchUnseen(ingress)

	sess, err := s.conn.TakeSession()
	if err != nil {
		return err
	}

	updates := make(chan client.Update, 16)
	sess.Updates = updates

	idleClient := idle.NewClient(sess)
	idleStop := make(chan struct{})
	idleDone := make(chan error, 1)
	go func() { idleDone <- idleClient.Idle(idleStop) }()

	defer func() {
		sess.Updates = nil
		s.conn.Adopt(sess)
	}()

	renew := time.NewTimer(s.renewInterval)
	defer renew.Stop()

	for {
		select {
		case <-stop.Done():
			close(idleStop)
			<-idleDone
			return nil

		case err := <-idleDone:
			return err

		case <-renew.C:
			close(idleStop)
			<-idleDone
			return nil // caller loops back into runOnce to re-establish IDLE

		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); ok {
				s.fetchUnseen(ingress)
			}
		}
	}
}

func (s *Idle) fetchUnseen(ingress chan<- hub.SourceMail) {
	fetches, err := s.conn.IterUnseen(s.mailbox)
	if err != nil {
		s.logger.Error("failed to fetch unseen messages", "mailbox", s.mailbox, "error", err)
		return
	}
	if len(fetches) == 0 {
		return
	}

	var uids []uint32
	for _, f := range fetches {
		uids = append(uids, f.UID)
		ingress <- hub.SourceMail{Source: s.name, Mail: mail.New(s.name, f.Body)}
	}

	if !s.keep {
		if err := s.conn.Delete(s.mailbox, uids); err != nil {
			s.logger.Error("failed to delete fetched messages", "mailbox", s.mailbox, "error", err)
		}
	}
}
