// Package destinations implements the concrete Destination kinds the Hub
// can deliver to: SMTP relay, local subprocess, and an in-memory test stub.
package destinations

import (
	"crypto/tls"
	"fmt"
	"io"

	gomail "gopkg.in/gomail.v2"

	"github.com/idlemail/mailhubd/internal/mail"
)

// SMTPAuth holds SMTP credentials; gomail's dialer picks the SASL mechanism
// from what the server advertises. A destination configured without auth
// dials anonymously.
type SMTPAuth struct {
	User     string
	Password string
}

// SMTP delivers a Mail's raw body unmodified to a single recipient over an
// SMTP relay connection. Unlike a mail client composing a new message, SMTP
// never parses or re-serializes the body: it is passed straight through as
// the envelope content, so headers and MIME structure from the source
// survive exactly as received.
type SMTP struct {
	name      mail.DestinationName
	recipient string
	dialer    *gomail.Dialer
}

// NewSMTP builds an SMTP destination. ssl selects implicit TLS (SMTPS); when
// false the dialer falls back to opportunistic STARTTLS, matching the
// teacher's "ssl" vs. plain-port behavior.
func NewSMTP(name mail.DestinationName, server string, port int, ssl bool, auth *SMTPAuth, recipient string) *SMTP {
	var user, pass string
	if auth != nil {
		user, pass = auth.User, auth.Password
	}
	dialer := gomail.NewDialer(server, port, user, pass)
	if ssl {
		dialer.SSL = true
	} else {
		dialer.TLSConfig = &tls.Config{ServerName: server}
	}
	return &SMTP{name: name, recipient: recipient, dialer: dialer}
}

// Name implements hub.Destination.
func (s *SMTP) Name() mail.DestinationName { return s.name }

// Deliver dials the relay, sends the Mail's body as-is to the configured
// recipient, and closes the connection. The envelope sender is the
// destination's own recipient address: SMTP relays generally require a
// non-empty MAIL FROM, and the daemon has no better identity to offer since
// it never parses the original From header.
func (s *SMTP) Deliver(m mail.Mail) error {
	sender, err := s.dialer.Dial()
	if err != nil {
		return fmt.Errorf("dial smtp relay: %w", err)
	}
	defer sender.Close()

	if err := sender.Send(s.recipient, []string{s.recipient}, rawMessage(m.Body())); err != nil {
		return fmt.Errorf("send mail %s: %w", m.ID(), err)
	}
	return nil
}

// rawMessage adapts a raw RFC822 byte body to gomail's io.WriterTo-based
// SendCloser.Send, so gomail never tries to compose or reformat it.
type rawMessage []byte

func (r rawMessage) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r)
	return int64(n), err
}
