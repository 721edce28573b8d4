package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mr1hm/disaster-response/internal/events"
	"github.com/mr1hm/disaster-response/internal/models"
	"github.com/mr1hm/disaster-response/internal/worker"
)

// Notifier handles one event. *FanOut is the production implementation.
type Notifier interface {
	Notify(ctx context.Context, e models.Event) error
}

// Dispatcher consumes bus events and hands the ones responders care about to
// a worker pool, so a slow push provider never blocks the publisher.
type Dispatcher struct {
	bus      *events.Bus
	notifier Notifier
	pool     *worker.Pool[models.Event]
	wg       sync.WaitGroup
}

func NewDispatcher(bus *events.Bus, notifier Notifier, workers, bufferSize int) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		notifier: notifier,
		pool:     worker.NewPool[models.Event]("notify", workers, bufferSize, notifier.Notify),
	}
}

// Handles reports whether t triggers responder notifications.
func Handles(t models.EventType) bool {
	return t == models.EventDisasterCompleted || t == models.EventReportCreated
}

func (d *Dispatcher) Start(ctx context.Context) {
	id, ch := d.bus.Subscribe()
	// Workers outlive ctx so buffered and queued events are still delivered
	// during shutdown.
	d.pool.Start(context.WithoutCancel(ctx))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.bus.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				d.drain(ch)
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				d.submit(e)
			}
		}
	}()
	slog.Info("notification dispatcher started")
}

func (d *Dispatcher) submit(e models.Event) {
	if Handles(e.Type) {
		d.pool.Submit(e)
	}
}

// drain hands over events already buffered on ch without waiting for more.
func (d *Dispatcher) drain(ch <-chan models.Event) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			d.submit(e)
		default:
			return
		}
	}
}

// Stop waits for the consumer to exit, then drains the pool. Cancel the
// context passed to Start (or close the bus) first.
func (d *Dispatcher) Stop() {
	d.wg.Wait()
	d.pool.Stop()
	slog.Info("notification dispatcher stopped")
}
