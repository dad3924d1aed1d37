package syncrun

import (
	"sync"

	"github.com/jun/gophsync/internal/clock"
	"github.com/jun/gophsync/internal/model"
)

// Log is an append-only, newest-first sync log. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []model.SyncLogEntry
	onEntry func(model.SyncLogEntry)
	clock   clock.Clock
	ids     clock.IDGenerator
}

func NewLog(c clock.Clock, ids clock.IDGenerator) *Log {
	if c == nil {
		c = clock.RealClock{}
	}
	if ids == nil {
		ids = clock.UUIDGenerator{}
	}
	return &Log{clock: c, ids: ids}
}

// OnEntry registers fn to be called with every appended entry, outside the lock.
func (l *Log) OnEntry(fn func(model.SyncLogEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEntry = fn
}

// Append stamps e with an ID and timestamp and prepends it.
func (l *Log) Append(e model.SyncLogEntry) model.SyncLogEntry {
	l.mu.Lock()
	e.ID = l.ids.New()
	e.Timestamp = l.clock.Now()
	l.entries = append([]model.SyncLogEntry{e}, l.entries...)
	fn := l.onEntry
	l.mu.Unlock()

	if fn != nil {
		fn(e)
	}
	return e
}

// Entries returns a copy of the log, newest first.
func (l *Log) Entries() []model.SyncLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.SyncLogEntry(nil), l.entries...)
}

// Clear empties the log.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
