package sources

import (
	"github.com/idlemail/mailhubd/internal/hub"
	"github.com/idlemail/mailhubd/internal/mail"
)

// Test is a Source stub driven entirely by test code via Inject, with no
// external dependency. Run simply blocks until stop fires, forwarding
// whatever Inject sends in the meantime.
type Test struct {
	name   mail.SourceName
	inject chan mail.Mail
}

// NewTest builds a Test source.
func NewTest(name mail.SourceName) *Test {
	return &Test{name: name, inject: make(chan mail.Mail, 16)}
}

// Name implements hub.Source.
func (t *Test) Name() mail.SourceName { return t.name }

// Inject hands a Mail to the source as if it had just arrived. Safe to call
// before or during Run; blocks if the injection buffer is full.
func (t *Test) Inject(m mail.Mail) {
	t.inject <- m
}

// Run implements hub.Source.
func (t *Test) Run(ingress chan<- hub.SourceMail, stop hub.StopToken) {
	for {
		select {
		case <-stop.Done():
			return
		case m := <-t.inject:
			ingress <- hub.SourceMail{Source: t.name, Mail: m}
		}
	}
}
