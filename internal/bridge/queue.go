package bridge

import (
	"log"
	"sync"
)

// Delivery is one raw inbound webhook waiting to be processed
type Delivery struct {
	TenantID uint
	Source   string
	Body     []byte
}

// TenantQueues defers webhook processing off the request path. Each tenant
// gets its own buffered channel and worker so one tenant's backlog cannot
// starve another's, while deliveries for a tenant are processed in order.
type TenantQueues struct {
	bridge  *Bridge
	size    int
	mu      sync.Mutex
	queues  map[uint]chan Delivery
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewTenantQueues creates the queue set. size is the per-tenant buffer.
func NewTenantQueues(bridge *Bridge, size int) *TenantQueues {
	if size <= 0 {
		size = 64
	}
	return &TenantQueues{
		bridge: bridge,
		size:   size,
		queues: make(map[uint]chan Delivery),
		stop:   make(chan struct{}),
	}
}

// Enqueue hands a delivery to the tenant's worker. It never blocks the
// caller: when the tenant's buffer is full the delivery is dropped with a
// warning and the provider's retry redelivers it later.
func (q *TenantQueues) Enqueue(d Delivery) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		log.Printf("Warning: queue stopped, dropping delivery from %s for tenant %d", d.Source, d.TenantID)
		return
	}
	ch, ok := q.queues[d.TenantID]
	if !ok {
		ch = make(chan Delivery, q.size)
		q.queues[d.TenantID] = ch
		q.wg.Add(1)
		go q.drain(d.TenantID, ch)
	}
	q.mu.Unlock()

	select {
	case ch <- d:
	default:
		log.Printf("Warning: queue full for tenant %d, dropping delivery from %s", d.TenantID, d.Source)
	}
}

// drain processes one tenant's deliveries in arrival order
func (q *TenantQueues) drain(tenantID uint, ch chan Delivery) {
	defer q.wg.Done()
	for {
		select {
		case d := <-ch:
			if err := q.bridge.IngestExternal(d.TenantID, d.Source, d.Body); err != nil {
				log.Printf("Failed to process %s delivery for tenant %d: %v", d.Source, d.TenantID, err)
			}
		case <-q.stop:
			// Flush whatever is already buffered before exiting
			for {
				select {
				case d := <-ch:
					if err := q.bridge.IngestExternal(d.TenantID, d.Source, d.Body); err != nil {
						log.Printf("Failed to process %s delivery for tenant %d: %v", d.Source, d.TenantID, err)
					}
				default:
					return
				}
			}
		}
	}
}

// Stop drains buffered deliveries and stops all workers
func (q *TenantQueues) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.stop)
	q.wg.Wait()
	log.Println("Webhook queues stopped")
}
