// Package retry implements the Hub's two RetryAgent kinds: an in-memory
// FIFO delay queue, and a filesystem-backed queue that survives a restart.
package retry

import (
	"log/slog"
	"time"

	"github.com/idlemail/mailhubd/internal/hub"
	"github.com/idlemail/mailhubd/internal/mail"
)

// Memory is a RetryAgent that holds failed deliveries in an in-process
// FIFO queue and re-injects each one delay after it was queued. Because
// every entry shares the same delay, the queue is always due-time sorted by
// construction: only the head is ever checked to decide if anything is
// ready, matching the teacher's original queue-head-only retry loop.
type Memory struct {
	delay  time.Duration
	logger *slog.Logger
}

// NewMemory builds a Memory retry agent with a fixed per-entry delay.
func NewMemory(delay time.Duration, logger *slog.Logger) *Memory {
	return &Memory{delay: delay, logger: logger.With("retry_agent", "memory")}
}

type memoryEntry struct {
	due  time.Time
	dest mail.DestinationName
	mail mail.Mail
}

// Start implements hub.RetryAgent. It polls once a second so a newly-due
// entry is never delayed by much more than that, without needing a timer
// per entry.
func (a *Memory) Start(inbound <-chan hub.RetryRequest, outbound chan<- hub.RetryMail, stop hub.StopToken) {
	var queue []memoryEntry

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Done():
			if len(queue) > 0 {
				a.logger.Warn("mails queued for retry are permanently lost at shutdown", "count", len(queue))
			}
			return

		case req := <-inbound:
			a.logger.Info("queueing mail for retransmission", "mail_id", req.Mail.ID(), "delay", a.delay)
			queue = append(queue, memoryEntry{due: time.Now().Add(a.delay), dest: req.Destination, mail: req.Mail})

		case <-ticker.C:
			now := time.Now()
			for len(queue) > 0 && !queue[0].due.After(now) {
				entry := queue[0]
				queue = queue[1:]
				a.logger.Info("mail due for retransmission", "mail_id", entry.mail.ID())
				outbound <- hub.RetryMail{Destination: entry.dest, Mail: entry.mail}
			}
		}
	}
}
