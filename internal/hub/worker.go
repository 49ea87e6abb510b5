package hub

import (
	"log/slog"

	"github.com/idlemail/mailhubd/internal/mail"
)

// destinationWorker is the single consumer of one destination's inbound
// queue. It runs until queue is closed and drained, regardless of the stop
// token: an in-flight or already-queued delivery always runs to completion,
// matching the spec's "destination adapters are not forcibly cancelled."
type destinationWorker struct {
	dest     Destination
	queue    chan mail.Mail
	retryOut chan<- RetryRequest // nil if no retry agent configured
	stop     StopToken
	logger   *slog.Logger
}

func newDestinationWorker(dest Destination, queueDepth int, retryOut chan<- RetryRequest, stop StopToken, logger *slog.Logger) *destinationWorker {
	return &destinationWorker{
		dest:     dest,
		queue:    make(chan mail.Mail, queueDepth),
		retryOut: retryOut,
		stop:     stop,
		logger:   logger.With("destination", string(dest.Name())),
	}
}

func (w *destinationWorker) run() {
	for m := range w.queue {
		err := w.dest.Deliver(m)
		if err == nil {
			w.logger.Debug("delivered", "mail_id", m.ID())
			continue
		}

		w.logger.Error("delivery failed", "mail_id", m.ID(), "error", err)

		if w.retryOut == nil {
			w.logger.Warn("no retry agent configured, dropping mail", "mail_id", m.ID())
			continue
		}

		req := RetryRequest{Destination: w.dest.Name(), Mail: m}
		select {
		case w.retryOut <- req:
		case <-w.stop.Done():
			// The retry agent may already have exited during shutdown; do
			// not block the drain indefinitely waiting for a reader that
			// will never arrive.
			w.logger.Warn("retry agent unavailable during shutdown, mail permanently lost", "mail_id", m.ID())
		}
	}
}
