// Package confirm correlates outgoing bus messages with the broker's
// asynchronous delivery confirmations.
//
// A publisher registers a Wait for the delivery tag of a message before it
// transmits the message, then blocks on Wait.Wait. Broker notifications are
// handed to Notify from whatever goroutine the broker client uses; they are
// queued and applied by a single loop goroutine that owns the table of
// pending waits. Registrations travel through the same queue, so a
// registration made before transmitting is always applied before the
// notification for that message.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getpup/pupstream/es"
)

var (
	// ErrConfirmationTimeout indicates the broker did not confirm in time.
	// Treat it like a rejection: the message may or may not have been accepted.
	ErrConfirmationTimeout = errors.New("confirmation timed out")

	// ErrConfirmationRejected indicates the broker negatively acknowledged the message.
	ErrConfirmationRejected = errors.New("confirmation rejected")

	// ErrTrackerClosed indicates the tracker shut down before the message was confirmed.
	ErrTrackerClosed = errors.New("confirmation tracker closed")
)

// Outcome is the resolution of a Wait.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeConfirmed
	OutcomeRejected
	OutcomeTimedOut
	OutcomeCancelled
)

// String returns the name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Notification is one broker acknowledgment. With Multiple set it resolves
// every pending tag less than or equal to Tag.
type Notification struct {
	Tag      uint64
	Multiple bool
	Ack      bool
}

// Config configures a Tracker.
type Config struct {
	// Logger is optional. If nil, logging is disabled.
	Logger es.Logger

	// Timeout is the default time a Wait stays pending before it resolves as timed out.
	Timeout time.Duration

	// SweepInterval is how often waits resolved without a notification are
	// dropped from the table.
	SweepInterval time.Duration

	// QueueSize bounds the number of queued registrations and notifications.
	QueueSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       9 * time.Second,
		SweepInterval: time.Second,
		QueueSize:     1024,
	}
}

type commandKind int

const (
	cmdRegister commandKind = iota
	cmdNotify
	cmdCount
)

type command struct {
	kind  commandKind
	wait  *Wait
	note  Notification
	reply chan int
}

// Tracker tracks waits for delivery confirmations.
type Tracker struct {
	cfg       Config
	queue     chan command
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// pending is owned by the loop goroutine.
	pending map[uint64]*Wait
}

// NewTracker starts a tracker. Close must be called to stop its loop.
func NewTracker(cfg Config) *Tracker {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}

	t := &Tracker{
		cfg:     cfg,
		queue:   make(chan command, cfg.QueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[uint64]*Wait),
	}
	go t.loop()
	return t
}

// Register creates a pending wait for tag with the given timeout, or the
// configured default when timeout <= 0. Call it before transmitting the message.
func (t *Tracker) Register(tag uint64, timeout time.Duration) (*Wait, error) {
	if timeout <= 0 {
		timeout = t.cfg.Timeout
	}

	select {
	case <-t.closing:
		return nil, ErrTrackerClosed
	default:
	}

	w := &Wait{
		tag:      tag,
		deadline: time.Now().Add(timeout),
		done:     make(chan struct{}),
		stopped:  t.done,
	}

	select {
	case t.queue <- command{kind: cmdRegister, wait: w}:
		return w, nil
	case <-t.closing:
		return nil, ErrTrackerClosed
	}
}

// Notify queues a broker notification. It is safe to call from any goroutine.
// Notifications arriving after Close are dropped.
func (t *Tracker) Notify(n Notification) {
	select {
	case t.queue <- command{kind: cmdNotify, note: n}:
	case <-t.closing:
	}
}

// Pending returns the number of waits currently held in the table.
func (t *Tracker) Pending() int {
	reply := make(chan int, 1)
	select {
	case t.queue <- command{kind: cmdCount, reply: reply}:
	case <-t.closing:
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-t.done:
		return 0
	}
}

// Close stops the loop and resolves every outstanding wait as cancelled.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		close(t.closing)
	})
	<-t.done
}

func (t *Tracker) loop() {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-t.queue:
			t.apply(cmd)
		case <-ticker.C:
			t.sweep()
		case <-t.closing:
			t.shutdown()
			return
		}
	}
}

func (t *Tracker) apply(cmd command) {
	switch cmd.kind {
	case cmdRegister:
		if prev, ok := t.pending[cmd.wait.tag]; ok {
			// A reused tag belongs to a send that never reached the broker.
			prev.resolve(OutcomeCancelled)
		}
		t.pending[cmd.wait.tag] = cmd.wait
	case cmdNotify:
		t.resolve(cmd.note)
	case cmdCount:
		cmd.reply <- len(t.pending)
	}
}

func (t *Tracker) resolve(n Notification) {
	outcome := OutcomeRejected
	if n.Ack {
		outcome = OutcomeConfirmed
	}

	if !n.Multiple {
		w, ok := t.pending[n.Tag]
		if !ok {
			if t.cfg.Logger != nil {
				t.cfg.Logger.Debug(context.Background(), "confirmation for unknown delivery tag",
					"delivery_tag", n.Tag,
					"ack", n.Ack)
			}
			return
		}
		w.resolve(outcome)
		delete(t.pending, n.Tag)
		return
	}

	resolved := 0
	for tag, w := range t.pending {
		if tag <= n.Tag {
			w.resolve(outcome)
			delete(t.pending, tag)
			resolved++
		}
	}
	if t.cfg.Logger != nil {
		t.cfg.Logger.Debug(context.Background(), "cumulative confirmation",
			"delivery_tag", n.Tag,
			"ack", n.Ack,
			"resolved", resolved)
	}
}

func (t *Tracker) sweep() {
	now := time.Now()
	for tag, w := range t.pending {
		if w.isResolved() || !now.Before(w.deadline) {
			w.resolve(OutcomeTimedOut)
			delete(t.pending, tag)
		}
	}
}

func (t *Tracker) shutdown() {
	cancelled := 0
drain:
	for {
		select {
		case cmd := <-t.queue:
			switch cmd.kind {
			case cmdRegister:
				cmd.wait.resolve(OutcomeCancelled)
				cancelled++
			case cmdCount:
				cmd.reply <- 0
			case cmdNotify:
			}
		default:
			break drain
		}
	}

	for tag, w := range t.pending {
		if w.resolve(OutcomeCancelled) {
			cancelled++
		}
		delete(t.pending, tag)
	}

	if t.cfg.Logger != nil && cancelled > 0 {
		t.cfg.Logger.Info(context.Background(), "confirmation tracker closed with outstanding waits",
			"cancelled", cancelled)
	}
}

// Wait is a pending confirmation for one delivery tag.
type Wait struct {
	tag      uint64
	deadline time.Time
	once     sync.Once
	outcome  Outcome
	done     chan struct{}
	stopped  <-chan struct{}
}

// Tag returns the delivery tag this wait belongs to.
func (w *Wait) Tag() uint64 { return w.tag }

// Deadline returns when the wait times out.
func (w *Wait) Deadline() time.Time { return w.deadline }

// Done is closed once the wait is resolved.
func (w *Wait) Done() <-chan struct{} { return w.done }

// Outcome returns the resolution, or OutcomePending.
func (w *Wait) Outcome() Outcome {
	select {
	case <-w.done:
		return w.outcome
	default:
		return OutcomePending
	}
}

// Wait blocks until the broker confirms or rejects the message, the deadline
// passes, the tracker closes, or ctx is done. It returns nil only for a
// confirmed message. Cancellation of ctx is returned as ctx.Err().
func (w *Wait) Wait(ctx context.Context) error {
	waitCtx, cancel := context.WithDeadline(ctx, w.deadline)
	defer cancel()

	select {
	case <-w.done:
	case <-w.stopped:
		w.resolve(OutcomeCancelled)
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			if w.resolve(OutcomeCancelled) {
				return ctx.Err()
			}
		} else {
			w.resolve(OutcomeTimedOut)
		}
	}

	return w.err()
}

func (w *Wait) err() error {
	switch w.outcome {
	case OutcomeConfirmed:
		return nil
	case OutcomeRejected:
		return fmt.Errorf("delivery tag %d: %w", w.tag, ErrConfirmationRejected)
	case OutcomeTimedOut:
		return fmt.Errorf("delivery tag %d: %w", w.tag, ErrConfirmationTimeout)
	default:
		return fmt.Errorf("delivery tag %d: %w", w.tag, ErrTrackerClosed)
	}
}

// resolve sets the outcome once. It reports whether this call resolved the wait.
func (w *Wait) resolve(o Outcome) bool {
	resolved := false
	w.once.Do(func() {
		w.outcome = o
		close(w.done)
		resolved = true
	})
	return resolved
}

func (w *Wait) isResolved() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
