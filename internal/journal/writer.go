package journal

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/mqtt-session/internal/session"
)

// DefaultBuffer is the Writer queue length used when none is given.
const DefaultBuffer = 1024

// dropLogEvery throttles the "buffer full" warning.
const dropLogEvery = 1000

// Logger receives journal write failures.
type Logger interface {
	Warn(msg string, args ...any)
}

// Writer is the session.Recorder for the journal. Record queues the event
// and returns at once; a single goroutine appends queued events in order.
// When the queue is full, or after Close, events are dropped and counted.
type Writer struct {
	repo   *SQLiteRepository
	logger Logger

	mu     sync.RWMutex
	closed bool
	events chan session.Event

	dropped   atomic.Uint64
	closeOnce sync.Once
	done      chan struct{}
}

var _ session.Recorder = (*Writer)(nil)

// NewWriter starts a Writer over repo with a queue of buffer events
// (DefaultBuffer when buffer is not positive). logger may be nil.
func NewWriter(repo *SQLiteRepository, logger Logger, buffer int) *Writer {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	w := &Writer{
		repo:   repo,
		logger: logger,
		events: make(chan session.Event, buffer),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Record queues ev without blocking.
func (w *Writer) Record(ev session.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.closed {
		select {
		case w.events <- ev:
			return
		default:
		}
	}

	n := w.dropped.Add(1)
	if w.logger != nil && n%dropLogEvery == 1 {
		w.logger.Warn("journal events dropped", "kind", string(ev.Kind), "dropped", n)
	}
}

// Dropped returns how many events were discarded so far.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops accepting events and waits until the queue is written.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.events)
		w.mu.Unlock()
	})
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)

	for ev := range w.events {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := w.repo.Append(ctx, ev)
		cancel()

		if err != nil && w.logger != nil {
			w.logger.Warn("journal write failed", "kind", string(ev.Kind), "error", err)
		}
	}
}
