package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	defaultBufferSize     = 256
	defaultPublishTimeout = 5 * time.Second
)

// Dispatcher fans events out to publishers on a background goroutine.
// Emit never blocks; when the buffer is full the event is dropped.
type Dispatcher struct {
	publishers []Publisher
	ch         chan Event
	timeout    time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	delivered  atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
}

// NewDispatcher creates a dispatcher with the given buffer size (0 = default).
func NewDispatcher(buffer int, publishers ...Publisher) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	return &Dispatcher{
		publishers: publishers,
		ch:         make(chan Event, buffer),
		timeout:    defaultPublishTimeout,
		stopCh:     make(chan struct{}),
	}
}

// SetPublishTimeout bounds a single Publish call.
func (d *Dispatcher) SetPublishTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.stopCh = make(chan struct{})
	d.running = true
	d.wg.Add(1)
	go d.worker(d.stopCh)
	log.Infof("[Events] dispatcher started with %d publisher(s)", len(d.publishers))
}

// Stop delivers what is already buffered and waits for the worker.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	close(d.stopCh)
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	log.Info("[Events] dispatcher stopped")
}

func (d *Dispatcher) Emit(e Event) {
	select {
	case d.ch <- e:
	default:
		d.dropped.Add(1)
		log.Warnf("[Events] buffer full, dropping %s for invoice %s", e.Type, e.InvoiceID)
	}
}

// Stats returns delivered, failed and dropped counts.
func (d *Dispatcher) Stats() (delivered, failed, dropped int64) {
	return d.delivered.Load(), d.failed.Load(), d.dropped.Load()
}

func (d *Dispatcher) worker(stopCh <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.ch:
			d.deliver(e)
		case <-stopCh:
			for {
				select {
				case e := <-d.ch:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, p := range d.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := p.Publish(ctx, e)
		cancel()
		if err != nil {
			d.failed.Add(1)
			log.Warnf("[Events] publish %s for invoice %s via %T failed: %v", e.Type, e.InvoiceID, p, err)
			continue
		}
		d.delivered.Add(1)
	}
}
