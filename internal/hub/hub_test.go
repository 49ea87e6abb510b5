package hub_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/idlemail/mailhubd/internal/hub"
	"github.com/idlemail/mailhubd/internal/mail"
	"github.com/idlemail/mailhubd/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource emits a fixed batch of mails as soon as Run starts, then
// blocks until the stop token fires, matching the contract that Run must
// not return before the Hub can join it during shutdown.
type fakeSource struct {
	name  mail.SourceName
	mails []mail.Mail
}

func (f *fakeSource) Name() mail.SourceName { return f.name }

func (f *fakeSource) Run(ingress chan<- hub.SourceMail, stop hub.StopToken) {
	for _, m := range f.mails {
		ingress <- hub.SourceMail{Source: f.name, Mail: m}
	}
	<-stop.Done()
}

// fakeDestination fails its first failTimes deliveries, then records
// every Mail it accepts.
type fakeDestination struct {
	name      mail.DestinationName
	mu        sync.Mutex
	failTimes int
	delivered []mail.Mail
}

func (d *fakeDestination) Name() mail.DestinationName { return d.name }

func (d *fakeDestination) Deliver(m mail.Mail) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failTimes > 0 {
		d.failTimes--
		return errors.New("simulated delivery failure")
	}
	d.delivered = append(d.delivered, m)
	return nil
}

func (d *fakeDestination) deliveredCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func (d *fakeDestination) remainingFailures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failTimes
}

// waitFor polls cond until it's true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestDispatchFansOutToEveryMappedDestination(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "inbox", mails: []mail.Mail{mail.New("inbox", []byte("hello"))}}
	d1 := &fakeDestination{name: "d1"}
	d2 := &fakeDestination{name: "d2"}

	mapping := hub.NewMappingTable(map[mail.SourceName][]mail.DestinationName{
		"inbox": {"d1", "d2"},
	})
	h := hub.New(mapping, []hub.Source{src}, map[mail.DestinationName]hub.Destination{
		"d1": d1, "d2": d2,
	}, nil, hub.WithLogger(testLogger()))

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	waitFor(t, time.Second, func() bool { return d1.deliveredCount() == 1 && d2.deliveredCount() == 1 })

	h.StopHandle().Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestFailedDeliveryIsRetriedAndEventuallySucceeds(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "inbox", mails: []mail.Mail{mail.New("inbox", []byte("hello"))}}
	dest := &fakeDestination{name: "dest", failTimes: 1}
	agent := retry.NewMemory(10*time.Millisecond, testLogger())

	mapping := hub.NewMappingTable(map[mail.SourceName][]mail.DestinationName{"inbox": {"dest"}})
	h := hub.New(mapping, []hub.Source{src}, map[mail.DestinationName]hub.Destination{"dest": dest}, agent, hub.WithLogger(testLogger()))

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	// The memory agent only flushes due entries on its one-second tick, so
	// the retried delivery lands about a second after the first attempt.
	waitFor(t, 3*time.Second, func() bool { return dest.deliveredCount() == 1 })

	h.StopHandle().Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestFailedDeliveryWithoutRetryAgentIsDropped(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "inbox", mails: []mail.Mail{mail.New("inbox", []byte("hello"))}}
	dest := &fakeDestination{name: "dest", failTimes: 1}

	mapping := hub.NewMappingTable(map[mail.SourceName][]mail.DestinationName{"inbox": {"dest"}})
	h := hub.New(mapping, []hub.Source{src}, map[mail.DestinationName]hub.Destination{"dest": dest}, nil, hub.WithLogger(testLogger()))

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	waitFor(t, time.Second, func() bool { return dest.remainingFailures() == 0 })
	// Give the (nonexistent) retry path a moment it would need if it existed.
	time.Sleep(50 * time.Millisecond)

	h.StopHandle().Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := dest.deliveredCount(); got != 0 {
		t.Errorf("expected the failed mail to be dropped, got %d delivered", got)
	}
}

func TestRunReturnsPromptlyAfterStopWithNoPendingWork(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "inbox"}
	dest := &fakeDestination{name: "dest"}

	mapping := hub.NewMappingTable(map[mail.SourceName][]mail.DestinationName{"inbox": {"dest"}})
	h := hub.New(mapping, []hub.Source{src}, map[mail.DestinationName]hub.Destination{"dest": dest}, nil, hub.WithLogger(testLogger()))

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	h.StopHandle().Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestUnknownMappedDestinationIsLoggedNotFatal(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "inbox", mails: []mail.Mail{mail.New("inbox", []byte("hello"))}}
	dest := &fakeDestination{name: "dest"}

	mapping := hub.NewMappingTable(map[mail.SourceName][]mail.DestinationName{"inbox": {"dest", "ghost"}})
	h := hub.New(mapping, []hub.Source{src}, map[mail.DestinationName]hub.Destination{"dest": dest}, nil, hub.WithLogger(testLogger()))

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	waitFor(t, time.Second, func() bool { return dest.deliveredCount() == 1 })

	h.StopHandle().Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}
