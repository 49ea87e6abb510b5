package hub

import "github.com/idlemail/mailhubd/internal/mail"

// Source produces Mails from an external mail store. Run blocks until the
// stop token fires and the source's own production loop has observed it at
// its next suspension point; it must not return earlier, so the Hub can join
// it deterministically during shutdown.
type Source interface {
	Name() mail.SourceName
	Run(ingress chan<- SourceMail, stop StopToken)
}

// Destination consumes Mails and delivers them externally. Deliver is called
// from a single worker goroutine per destination and must be safe for that
// single-consumer usage; it need not be safe for concurrent callers.
type Destination interface {
	Name() mail.DestinationName
	Deliver(m mail.Mail) error
}

// RetryAgent delays failed deliveries and re-injects them into the Hub after
// their due time. Start blocks until the agent has observed the stop token
// and performed its shutdown policy (drain, or log-and-discard, or leave on
// disk — see the memory and filesystem implementations).
type RetryAgent interface {
	Start(inbound <-chan RetryRequest, outbound chan<- RetryMail, stop StopToken)
}

// SourceMail is the payload carried on the Hub's source-ingress channel,
// written by every source and consumed by the Hub's router, which fans it
// out to every destination the mapping table lists for Source.
type SourceMail struct {
	Source mail.SourceName
	Mail   mail.Mail
}

// RetryRequest is what a destination worker emits on delivery failure, on
// the single shared retry-agent inbound channel.
type RetryRequest struct {
	Destination mail.DestinationName
	Mail        mail.Mail
}

// RetryMail is what the retry agent emits on the Hub's retry-ingress channel
// once a queued entry is due. The Hub's router dispatches it directly to
// Destination, never back through the mapping table.
type RetryMail struct {
	Destination mail.DestinationName
	Mail        mail.Mail
}
