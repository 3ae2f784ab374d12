package domain

import "time"

// MemoryEntry is an append-only record written by memory_write. Entries
// are never mutated once stored.
type MemoryEntry struct {
	ID        string
	Timestamp time.Time
	SessionID SessionID
	Type      string
	Content   string
	Encrypted bool
	LocalOnly bool
}
