package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"safeworks.org/ptw/internal/obs"
)

// Publisher delivers one event to a transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(ev Event) bool
}

// Dispatcher queues events and forwards them from a single worker.
type Dispatcher struct {
	pub    Publisher
	queue  chan Event
	logger *logrus.Entry

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts the worker. size bounds the queue.
func NewDispatcher(pub Publisher, size int) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	d := &Dispatcher{
		pub:    pub,
		queue:  make(chan Event, size),
		logger: obs.Component("notify"),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit enqueues ev. A full or closed queue drops the event.
func (d *Dispatcher) Emit(ev Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev, "closed")
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.drop(ev, "queue_full")
		return false
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	obs.NotifyEvents.WithLabelValues("dropped").Inc()
	d.logger.WithFields(logrus.Fields{
		"event_id":  ev.ID,
		"kind":      ev.Kind,
		"permit_id": ev.PermitID,
		"reason":    reason,
	}).Warn("notification dropped")
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		if err := d.pub.Publish(context.Background(), ev); err != nil {
			obs.NotifyEvents.WithLabelValues("failed").Inc()
			d.logger.WithError(err).WithFields(logrus.Fields{
				"event_id":  ev.ID,
				"kind":      ev.Kind,
				"permit_id": ev.PermitID,
			}).Error("notification publish failed")
			continue
		}
		obs.NotifyEvents.WithLabelValues("published").Inc()
	}
}

// Close stops intake, drains queued events and closes the publisher.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("notification drain interrupted")
	}
	return d.pub.Close()
}
