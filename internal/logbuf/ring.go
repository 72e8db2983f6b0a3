// Package logbuf keeps the most recent output lines of the supervised
// backend for diagnostics.
package logbuf

import (
	"sync"
	"time"
)

// Entry is one stored output line.
type Entry struct {
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
}

// Ring is a thread-safe ring buffer that stores the last N entries.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	full    bool
	total   int64
}

// New creates a ring buffer that stores the last n entries. n <= 0 is
// treated as 1.
func New(n int) *Ring {
	if n <= 0 {
		n = 1
	}
	return &Ring{
		entries: make([]Entry, n),
		size:    n,
	}
}

// Add stores a line. A zero Time is replaced with the current time.
func (r *Ring) Add(stream, text string) {
	r.AddEntry(Entry{Stream: stream, Text: text})
}

// AddEntry stores e.
func (r *Ring) AddEntry(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.pos] = e
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
	r.total++
}

// Entries returns all stored entries in order, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		result := make([]Entry, r.pos)
		copy(result, r.entries[:r.pos])
		return result
	}

	result := make([]Entry, r.size)
	copy(result, r.entries[r.pos:])
	copy(result[r.size-r.pos:], r.entries[:r.pos])
	return result
}

// Last returns the last n entries. If fewer exist, returns all of them.
func (r *Ring) Last(n int) []Entry {
	all := r.Entries()
	if n < 0 {
		n = 0
	}
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Total returns how many entries were ever added, including evicted ones.
func (r *Ring) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
