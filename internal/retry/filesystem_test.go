package retry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/idlemail/mailhubd/internal/hub"
	"github.com/idlemail/mailhubd/internal/mail"
)

func TestFilesystemReinjectsAndRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	agent := NewFilesystem(dir, 15*time.Millisecond, testLogger())

	inbound := make(chan hub.RetryRequest, 1)
	outbound := make(chan hub.RetryMail, 1)
	stop := hub.NewStopToken()

	go agent.Start(inbound, outbound, stop)
	defer stop.Stop()

	sent := hub.RetryRequest{Destination: "dest", Mail: mail.New("src", []byte("payload"))}
	inbound <- sent

	waitForFileCount(t, dir, 1, time.Second)

	select {
	case got := <-outbound:
		if got.Mail.ID() != sent.Mail.ID() || got.Destination != sent.Destination {
			t.Errorf("reinjected mail mismatch: got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("mail was never reinjected")
	}

	waitForFileCount(t, dir, 0, time.Second)
}

func TestFilesystemRecoversPersistedEntriesAcrossRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	first := NewFilesystem(dir, 150*time.Millisecond, testLogger())
	inbound := make(chan hub.RetryRequest, 1)
	outbound := make(chan hub.RetryMail, 1)
	stop := hub.NewStopToken()

	done := make(chan struct{})
	go func() {
		first.Start(inbound, outbound, stop)
		close(done)
	}()

	original := hub.RetryRequest{Destination: "dest", Mail: mail.New("src", []byte("restart me"))}
	inbound <- original
	waitForFileCount(t, dir, 1, time.Second)

	stop.Stop()
	<-done

	if n := countFiles(t, dir); n != 1 {
		t.Fatalf("expected the persisted entry to survive a clean shutdown, found %d files", n)
	}

	second := NewFilesystem(dir, 0, testLogger())
	inbound2 := make(chan hub.RetryRequest, 1)
	outbound2 := make(chan hub.RetryMail, 1)
	stop2 := hub.NewStopToken()

	go second.Start(inbound2, outbound2, stop2)
	defer stop2.Stop()

	select {
	case got := <-outbound2:
		if got.Mail.ID() != original.Mail.ID() {
			t.Errorf("recovered mail has wrong identity: got %v, want %v", got.Mail.ID(), original.Mail.ID())
		}
		if string(got.Mail.Body()) != "restart me" {
			t.Errorf("recovered mail has wrong body: got %q", got.Mail.Body())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("persisted entry was never recovered after restart")
	}
}

func waitForFileCount(t *testing.T, dir string, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if countFiles(t, dir) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("directory %s never reached %d files", dir, want)
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.retry"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	return len(matches)
}

func TestRecordFilenameRoundTrips(t *testing.T) {
	t.Parallel()

	due := time.Now().Add(5 * time.Minute).Truncate(time.Nanosecond)
	id := mail.New("src", []byte("x")).ID()

	name := recordFilename(due, id)
	gotDue, gotID, ok := parseRecordFilename(name)
	if !ok {
		t.Fatalf("parseRecordFilename failed to parse %q", name)
	}
	if !gotDue.Equal(due) {
		t.Errorf("due time mismatch: got %v, want %v", gotDue, due)
	}
	if gotID != id {
		t.Errorf("id mismatch: got %v, want %v", gotID, id)
	}
}

func TestLoadExistingIgnoresUnrecognizedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "not-a-retry-file.txt"), []byte("noise"), 0o600); err != nil {
		t.Fatal(err)
	}

	agent := NewFilesystem(dir, time.Second, testLogger())
	entries, err := agent.loadExisting()
	if err != nil {
		t.Fatalf("loadExisting returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}
