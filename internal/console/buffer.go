package console

import (
	"sync"
	"time"
)

// DefaultCapacity is the default buffer capacity in entries.
const DefaultCapacity = 1000

// QueryOptions filters a buffer read. Zero values mean "no constraint".
type QueryOptions struct {
	// Count limits the result to the most recent N matching entries.
	Count int
	// Level keeps only entries of exactly this level.
	Level string
	// Since keeps only entries at or after this timestamp.
	Since time.Time
}

// Buffer is a fixed-capacity, insertion-ordered log store with FIFO
// eviction. All methods are safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	entries  []LogEntry
	capacity int
}

// NewBuffer creates a buffer holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]LogEntry, 0, capacity),
		capacity: capacity,
	}
}

// Append adds an entry, evicting the oldest entry when at capacity.
func (b *Buffer) Append(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.capacity {
		over := len(b.entries) - b.capacity + 1
		b.entries = append(b.entries[:0], b.entries[over:]...)
	}
	b.entries = append(b.entries, e)
}

// Query returns the matching tail slice: level and since filters applied
// first, then the most recent Count entries. No side effects.
func (b *Buffer) Query(opts QueryOptions) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	matched := make([]LogEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if opts.Level != "" && e.Level != opts.Level {
			continue
		}
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			continue
		}
		matched = append(matched, e)
	}

	if opts.Count > 0 && len(matched) > opts.Count {
		matched = matched[len(matched)-opts.Count:]
	}

	// Copy the entry slice so later appends cannot move under the caller.
	// Args and Stack still share backing arrays; entries are immutable
	// once appended, so that sharing is safe.
	out := make([]LogEntry, len(matched))
	copy(out, matched)
	return out
}

// Clear empties the buffer and returns the number of entries removed.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := len(b.entries)
	b.entries = b.entries[:0]
	return removed
}

// Len returns the current number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Capacity returns the configured capacity.
func (b *Buffer) Capacity() int {
	return b.capacity
}
