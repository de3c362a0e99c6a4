// Package history records tool invocations made through a Computer.
package history

import (
	"log/slog"
	"maps"
	"sync"
	"time"
)

// DefaultCapacity is the number of records kept when no capacity is given.
const DefaultCapacity = 10

// Record describes one tool invocation attempt. Records are never mutated
// after they are appended.
type Record struct {
	Timestamp  time.Time      `json:"timestamp"`
	ReqID      string         `json:"req_id"`
	Server     string         `json:"server"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Timeout    time.Duration  `json:"timeout,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// Sink mirrors appended records somewhere durable.
type Sink interface {
	Write(Record) error
}

// Log is a bounded, append-only call history. It is safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	records  []Record
	start    int
	capacity int
	sink     Sink
	log      *slog.Logger
}

// Options configures a Log.
type Options struct {
	// Capacity bounds the in-memory records; the oldest are evicted first.
	// Nil means DefaultCapacity, zero means unbounded.
	Capacity *int
	Sink     Sink
	Logger   *slog.Logger
}

// New returns an empty Log.
func New(opts *Options) *Log {
	var o Options
	if opts != nil {
		o = *opts
	}
	capacity := DefaultCapacity
	if o.Capacity != nil && *o.Capacity >= 0 {
		capacity = *o.Capacity
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Log{capacity: capacity, sink: o.Sink, log: o.Logger}
}

// Capacity reports the record limit; zero means unbounded.
func (l *Log) Capacity() int { return l.capacity }

// Append stores rec, evicting the oldest record when the log is full. A sink
// failure is logged and does not affect the in-memory log.
func (l *Log) Append(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Parameters = maps.Clone(rec.Parameters)

	l.mu.Lock()
	if l.capacity > 0 && len(l.records) == l.capacity {
		l.records[l.start] = rec
		l.start = (l.start + 1) % l.capacity
	} else {
		l.records = append(l.records, rec)
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		if err := sink.Write(rec); err != nil {
			l.log.Warn("history sink write failed", slog.String("req_id", rec.ReqID), slog.Any("error", err))
		}
	}
}

// Len reports the number of records held in memory.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Recent returns at most limit records, newest first. A limit <= 0 returns
// every record.
func (l *Log) Recent(limit int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.start + n - 1 - i) % n
		rec := l.records[idx]
		rec.Parameters = maps.Clone(rec.Parameters)
		out = append(out, rec)
	}
	return out
}

// RecentServers lists servers with at least one successful call, most recent
// first, each once.
func (l *Log) RecentServers() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range l.Recent(0) {
		if !rec.Success {
			continue
		}
		if _, ok := seen[rec.Server]; ok {
			continue
		}
		seen[rec.Server] = struct{}{}
		out = append(out, rec.Server)
	}
	return out
}

// Clear drops every in-memory record. The sink is untouched.
func (l *Log) Clear() {
	l.mu.Lock()
	l.records = nil
	l.start = 0
	l.mu.Unlock()
}
