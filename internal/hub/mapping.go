package hub

import "github.com/idlemail/mailhubd/internal/mail"

// MappingTable is the immutable routing table from a source to the set of
// destinations every Mail it produces must be fanned out to. Construct it
// with NewMappingTable once at load time; it is never mutated afterwards and
// is safe to share across every goroutine the Hub spawns.
type MappingTable struct {
	bySource map[mail.SourceName][]mail.DestinationName
}

// NewMappingTable copies m so the caller's map can't mutate the table later.
func NewMappingTable(m map[mail.SourceName][]mail.DestinationName) MappingTable {
	copied := make(map[mail.SourceName][]mail.DestinationName, len(m))
	for src, dsts := range m {
		copied[src] = append([]mail.DestinationName(nil), dsts...)
	}
	return MappingTable{bySource: copied}
}

// Destinations returns the destination set configured for src, or nil if src
// has no mapping (which the config loader's validation rules forbid for any
// source that actually exists, but the Hub defends against it anyway).
func (t MappingTable) Destinations(src mail.SourceName) []mail.DestinationName {
	return t.bySource[src]
}
