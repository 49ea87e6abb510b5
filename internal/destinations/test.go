package destinations

import (
	"fmt"
	"sync"

	"github.com/idlemail/mailhubd/internal/mail"
)

// Test is a Destination stub for exercising the Hub's retry and shutdown
// paths without a network dependency. It fails the first FailNFirst
// deliveries it receives over its lifetime, then accepts everything after,
// and records every Mail it was asked to deliver (succeeded or not) for a
// test to inspect afterwards.
type Test struct {
	name       mail.DestinationName
	failNFirst int
	mu         sync.Mutex
	attempts   int
	Delivered  []mail.Mail
}

// NewTest builds a Test destination that fails its first failNFirst
// Deliver calls.
func NewTest(name mail.DestinationName, failNFirst int) *Test {
	return &Test{name: name, failNFirst: failNFirst}
}

// Name implements hub.Destination.
func (t *Test) Name() mail.DestinationName { return t.name }

// Deliver implements hub.Destination.
func (t *Test) Deliver(m mail.Mail) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts++
	if t.attempts <= t.failNFirst {
		return fmt.Errorf("test destination %s: simulated failure %d/%d", t.name, t.attempts, t.failNFirst)
	}
	t.Delivered = append(t.Delivered, m)
	return nil
}

// Attempts reports how many times Deliver has been called so far.
func (t *Test) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}
