// Package bus provides the append-only message log between the coordinator
// and workers.
package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Sink receives every appended message for durable storage.
// Appends hit the sink before the in-memory log so a message is never
// observable without having been persisted.
type Sink interface {
	AppendMessage(m models.Message) error
}

// WakeFunc is invoked after a message is appended, outside the bus lock.
type WakeFunc func(m models.Message)

// Bus is the append-only, globally ordered message log.
// Delivery order is guaranteed per (From, To) pair; consumers must treat
// task store status, not message content, as ground truth.
type Bus struct {
	mu      sync.RWMutex
	log     []models.Message
	nextSeq int64
	sink    Sink
	subs    map[int]WakeFunc
	nextSub int
}

// New creates a message bus. The sink may be nil for in-memory operation
// (tests, status checks against an already-loaded snapshot).
func New(sink Sink) *Bus {
	return &Bus{
		nextSeq: 1,
		sink:    sink,
		subs:    make(map[int]WakeFunc),
	}
}

// Log appends a message and returns its sequence number.
// The message is stamped with the next sequence and the append time, written
// to the durable sink, committed to the in-memory log, and then wake
// callbacks fire outside the lock.
func (b *Bus) Log(m models.Message) (int64, error) {
	if !m.Type.Valid() {
		return 0, fmt.Errorf("log message: invalid type %q", m.Type)
	}

	b.mu.Lock()
	m.Seq = b.nextSeq
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if b.sink != nil {
		if err := b.sink.AppendMessage(m); err != nil {
			b.mu.Unlock()
			return 0, fmt.Errorf("append message: %w", err)
		}
	}
	b.nextSeq++
	b.log = append(b.log, m)

	wakes := make([]WakeFunc, 0, len(b.subs))
	for _, fn := range b.subs {
		wakes = append(wakes, fn)
	}
	b.mu.Unlock()

	for _, fn := range wakes {
		fn(m)
	}
	return m.Seq, nil
}

// Filter narrows the result of List. Zero values match everything.
type Filter struct {
	// From matches messages sent by this party.
	From string
	// To matches messages addressed to this party.
	To string
	// Type matches messages of this type.
	Type models.MessageType
	// TaskID matches messages concerning this task.
	TaskID string
	// AfterSeq matches messages with a sequence strictly greater than this.
	// Acts as a replay cursor for pull-style consumers.
	AfterSeq int64
}

func (f Filter) matches(m models.Message) bool {
	if f.From != "" && m.From != f.From {
		return false
	}
	if f.To != "" && m.To != f.To {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.TaskID != "" && m.TaskID != f.TaskID {
		return false
	}
	if m.Seq <= f.AfterSeq {
		return false
	}
	return true
}

// List returns an ordered snapshot of matching messages.
func (b *Bus) List(f Filter) []models.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []models.Message
	for _, m := range b.log {
		if f.matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// Subscribe registers a callback invoked for every appended message. The
// coordinator registers its message trace here. The returned function
// unsubscribes.
func (b *Bus) Subscribe(fn WakeFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// LastSeq returns the sequence number of the most recent message, or 0.
func (b *Bus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq - 1
}

// Restore loads previously persisted messages into an empty bus, preserving
// their sequence numbers. Used during session reconciliation.
func (b *Bus) Restore(msgs []models.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.log) != 0 {
		return fmt.Errorf("restore: bus not empty")
	}
	for _, m := range msgs {
		b.log = append(b.log, m)
		if m.Seq >= b.nextSeq {
			b.nextSeq = m.Seq + 1
		}
	}
	return nil
}
