// Package mailbox implements the single-slot frame hand-off between the
// device capture callback (sole writer) and the buffer producer (sole
// reader).
//
// Semantics:
//   - Put never blocks beyond a short critical section and always
//     overwrites the unconsumed frame (latest frame wins)
//   - TakeTimeout returns at most one frame per call and clears the slot
//   - a wake channel replaces polling; PollInterval only bounds timer slack
package mailbox

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// PollInterval is the worst-case latency added beyond maxWait.
const PollInterval = 5 * time.Millisecond

var (
	// ErrTimeout is returned when no frame arrived within maxWait
	ErrTimeout = errors.New("mailbox: timeout")
	// ErrFlushing is returned while the flushing flag is set
	ErrFlushing = errors.New("mailbox: flushing")
)

// Frame is one captured frame with capture-side metadata.
//
// Data MUST NOT be modified after Put (shared by reference).
type Frame struct {
	Data       []byte
	Seq        uint64
	CapturedAt time.Time
	TraceID    string
}

// Mailbox holds at most one undelivered frame.
type Mailbox struct {
	mu       sync.Mutex
	frame    *Frame
	flushing bool
	failure  error

	// wake has capacity 1: every state change does a non-blocking send, and
	// the single reader re-checks state under mu after each receive.
	wake chan struct{}

	puts      uint64
	overwrite uint64
}

// New creates an empty mailbox
func New() *Mailbox {
	return &Mailbox{wake: make(chan struct{}, 1)}
}

// Put stores frame, replacing any unconsumed one.
func (m *Mailbox) Put(frame *Frame) {
	m.mu.Lock()
	if m.frame != nil {
		atomic.AddUint64(&m.overwrite, 1)
	}
	m.frame = frame
	m.mu.Unlock()

	atomic.AddUint64(&m.puts, 1)
	m.signal()
}

// TakeTimeout waits up to maxWait for a frame and clears the slot.
//
// Returns ErrFlushing as soon as flushing is set, the failure recorded by
// Fail if any, or ErrTimeout when maxWait elapses with the slot empty.
// Single consumer only.
func (m *Mailbox) TakeTimeout(maxWait time.Duration) (*Frame, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for {
		if frame, done, err := m.poll(); done {
			return frame, err
		}

		select {
		case <-m.wake:
		case <-timer.C:
			return nil, ErrTimeout
		}
	}
}

// poll inspects the slot once under the lock
func (m *Mailbox) poll() (*Frame, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.flushing {
		return nil, true, ErrFlushing
	}
	if m.frame != nil {
		frame := m.frame
		m.frame = nil
		return frame, true, nil
	}
	if m.failure != nil {
		return nil, true, m.failure
	}
	return nil, false, nil
}

// Clear drops any unconsumed frame and recorded failure
func (m *Mailbox) Clear() {
	m.mu.Lock()
	m.frame = nil
	m.failure = nil
	flushing := m.flushing
	m.mu.Unlock()

	// A wake-up raised by SetFlushing(true) must survive so a blocked
	// TakeTimeout still sees it
	if flushing {
		return
	}

	// Drain a stale wake-up so the next wait starts clean
	select {
	case <-m.wake:
	default:
	}
}

// SetFlushing sets or clears the flushing flag. Setting it wakes a
// blocked TakeTimeout, which returns ErrFlushing.
func (m *Mailbox) SetFlushing(flushing bool) {
	m.mu.Lock()
	m.flushing = flushing
	m.mu.Unlock()

	if flushing {
		m.signal()
	}
}

// Flushing reports the flushing flag
func (m *Mailbox) Flushing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushing
}

// Fail records a sticky failure returned by TakeTimeout once the slot is
// empty. The first failure wins until Clear.
func (m *Mailbox) Fail(err error) {
	m.mu.Lock()
	if m.failure == nil {
		m.failure = err
	}
	m.mu.Unlock()

	m.signal()
}

// Stats returns the lifetime put and overwrite counters
func (m *Mailbox) Stats() (puts, overwrites uint64) {
	return atomic.LoadUint64(&m.puts), atomic.LoadUint64(&m.overwrite)
}

func (m *Mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
