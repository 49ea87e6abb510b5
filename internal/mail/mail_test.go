package mail

import "testing"

func TestNewAssignsDistinctIDs(t *testing.T) {
	t.Parallel()

	a := New("inbox", []byte("same body"))
	b := New("inbox", []byte("same body"))

	if a.ID() == b.ID() {
		t.Fatal("two Mails created by separate New calls must have distinct IDs")
	}
}

func TestWithIDPreservesGivenIdentity(t *testing.T) {
	t.Parallel()

	original := New("inbox", []byte("payload"))
	restored := WithID(original.ID(), original.Source(), original.Body())

	if restored.ID() != original.ID() {
		t.Errorf("ID not preserved: got %v, want %v", restored.ID(), original.ID())
	}
	if restored.Source() != original.Source() {
		t.Errorf("Source not preserved: got %v, want %v", restored.Source(), original.Source())
	}
	if string(restored.Body()) != string(original.Body()) {
		t.Errorf("Body not preserved: got %q, want %q", restored.Body(), original.Body())
	}
}
