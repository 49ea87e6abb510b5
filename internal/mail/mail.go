// Package mail defines the value types carried end-to-end through the hub.
package mail

import "github.com/google/uuid"

// SourceName identifies a configured source. Unique within the sources set.
type SourceName string

// DestinationName identifies a configured destination. Unique within the
// destinations set.
type DestinationName string

// Mail is an immutable envelope: the raw RFC822 byte body plus provenance.
// Two Mails with identical bodies are distinct deliveries because they carry
// distinct IDs.
//
// Body returns the same underlying slice on every call; callers must treat it
// as read-only. Mail is cheap to copy by value (it only holds a slice header
// and a small id), so pass it around directly rather than by pointer.
type Mail struct {
	id     uuid.UUID
	source SourceName
	body   []byte
}

// New creates a Mail with a freshly assigned identity. body is retained by
// reference, not copied; the caller must not mutate it afterwards.
func New(source SourceName, body []byte) Mail {
	return Mail{id: uuid.New(), source: source, body: body}
}

// ID returns the Mail's identity, assigned once at creation and stable for
// its lifetime (including across retries of the same delivery attempt).
func (m Mail) ID() uuid.UUID { return m.id }

// Source returns the name of the source that produced this Mail.
func (m Mail) Source() SourceName { return m.source }

// Body returns the raw RFC822 bytes. Do not mutate the returned slice.
func (m Mail) Body() []byte { return m.body }

// WithID reconstructs a Mail with an explicit id and source, used by the
// filesystem retry agent to restore a Mail's identity across a restart.
func WithID(id uuid.UUID, source SourceName, body []byte) Mail {
	return Mail{id: id, source: source, body: body}
}
