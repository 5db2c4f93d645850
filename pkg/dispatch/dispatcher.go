package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/someip-core/pkg/log"
	"github.com/cuemby/someip-core/pkg/metrics"
	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// defaultMaxQueueSize bounds the message queue's soft back-pressure limit
// when a caller does not set one explicitly.
const defaultMaxQueueSize = 4096

// Dispatcher is the bounded worker pool of spec.md 4.5. One worker is
// spawned by Start; invoke spawns additional workers, up to maxDispatchers,
// when a handler blocks past maxDispatchTime. Priority items (everything
// but Message) are always drained before message items, and a message item
// for the same (service, instance) as an in-flight availability item waits
// behind a per-key gate rather than running concurrently with it.
type Dispatcher struct {
	mu            sync.Mutex
	cond          *sync.Cond
	priorityQueue []*item
	messageQueue  []*item
	running       bool

	maxDispatchers  int
	maxDispatchTime time.Duration
	maxQueueSize    int

	activeWorkers int32
	eg            *errgroup.Group

	keyMu    sync.Mutex
	keyLocks map[serviceKey]*sync.Mutex

	sessionMu       sync.Mutex
	sessionCounters map[string]someip.SessionID

	logger zerolog.Logger
}

// New creates a Dispatcher. maxQueueSize <= 0 uses defaultMaxQueueSize.
func New(maxDispatchers int, maxDispatchTime time.Duration, maxQueueSize int) *Dispatcher {
	if maxDispatchers < 1 {
		maxDispatchers = 1
	}
	if maxQueueSize <= 0 {
		maxQueueSize = defaultMaxQueueSize
	}
	d := &Dispatcher{
		maxDispatchers:  maxDispatchers,
		maxDispatchTime: maxDispatchTime,
		maxQueueSize:    maxQueueSize,
		keyLocks:        make(map[serviceKey]*sync.Mutex),
		sessionCounters: make(map[string]someip.SessionID),
		logger:          log.WithComponent("dispatch"),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start spawns the main dispatcher worker. Calling Start twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.eg = &errgroup.Group{}
	d.mu.Unlock()

	d.spawnWorker(false)
}

// Stop marks the dispatcher as no longer accepting work, wakes every
// worker blocked waiting for an item, and joins them. Queued items not yet
// picked up by a worker are discarded; draining pending notifications
// before stop is EventStore's and CoreFacade's responsibility, not the
// dispatcher's.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	d.running = false
	eg := d.eg
	d.mu.Unlock()

	d.cond.Broadcast()
	if eg == nil {
		return nil
	}
	return eg.Wait()
}

// EnqueueMessage schedules a Message-kind handler invocation for
// (s, i). neverDrop must be true for field-event notifications, which the
// back-pressure policy never discards.
func (d *Dispatcher) EnqueueMessage(s someip.ServiceID, i someip.InstanceID, neverDrop bool, fn func()) error {
	return d.enqueue(&item{kind: KindMessage, key: serviceKey{Service: s, Instance: i}, fn: fn, neverDrop: neverDrop, queuedAt: time.Now()})
}

// EnqueueAvailability schedules an Availability-kind handler invocation for
// (s, i); availability items are never subject to back-pressure dropping.
func (d *Dispatcher) EnqueueAvailability(s someip.ServiceID, i someip.InstanceID, fn func()) error {
	return d.enqueue(&item{kind: KindAvailability, key: serviceKey{Service: s, Instance: i}, fn: fn, neverDrop: true, queuedAt: time.Now()})
}

// EnqueueState schedules a State-kind handler invocation.
func (d *Dispatcher) EnqueueState(fn func()) error {
	return d.enqueue(&item{kind: KindState, fn: fn, neverDrop: true, queuedAt: time.Now()})
}

// EnqueueSubscription schedules a Subscription-status handler invocation.
func (d *Dispatcher) EnqueueSubscription(fn func()) error {
	return d.enqueue(&item{kind: KindSubscription, fn: fn, neverDrop: true, queuedAt: time.Now()})
}

// EnqueueOfferedServices schedules an OfferedServices handler invocation.
func (d *Dispatcher) EnqueueOfferedServices(fn func()) error {
	return d.enqueue(&item{kind: KindOfferedServices, fn: fn, neverDrop: true, queuedAt: time.Now()})
}

// EnqueueWatchdog schedules one watchdog tick invocation.
func (d *Dispatcher) EnqueueWatchdog(fn func()) error {
	return d.enqueue(&item{kind: KindWatchdog, fn: fn, neverDrop: true, queuedAt: time.Now()})
}

// NextSessionID returns the next monotonically increasing, non-zero
// session id for app, wrapping past the uint16 range back to 1.
func (d *Dispatcher) NextSessionID(app string) someip.SessionID {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	next := d.sessionCounters[app] + 1
	if next == 0 {
		next = 1
	}
	d.sessionCounters[app] = next
	return next
}

// QueueDepth returns the current number of queued items, priority and
// message combined.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.priorityQueue) + len(d.messageQueue)
}

// ActiveWorkers returns the current number of live worker goroutines.
func (d *Dispatcher) ActiveWorkers() int {
	return int(atomic.LoadInt32(&d.activeWorkers))
}

func (d *Dispatcher) enqueue(it *item) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrStopped
	}
	if it.kind == KindMessage && !it.neverDrop && len(d.messageQueue) >= d.maxQueueSize {
		d.mu.Unlock()
		metrics.DispatcherDroppedTotal.WithLabelValues(it.kind.String()).Inc()
		d.logger.Warn().Str("handler_type", it.kind.String()).Msg("dispatcher queue full, dropping item")
		return ErrQueueFull
	}
	if it.kind == KindMessage {
		d.messageQueue = append(d.messageQueue, it)
	} else {
		d.priorityQueue = append(d.priorityQueue, it)
	}
	metrics.DispatcherQueueDepth.Set(float64(len(d.priorityQueue) + len(d.messageQueue)))
	d.mu.Unlock()
	d.cond.Signal()
	return nil
}

// spawnWorker launches one worker goroutine under the errgroup Stop joins.
// extra workers self-reap once they complete an invocation and find the
// queue empty, the Go-idiomatic reading of "elapsed workers reaped at the
// next dequeue" — a fixed pool of goroutines doesn't park on a condition
// variable the way the original's elected-active-dispatcher model does, so
// there is nothing to elect; only the escalation count needs bounding.
func (d *Dispatcher) spawnWorker(extra bool) {
	atomic.AddInt32(&d.activeWorkers, 1)
	metrics.DispatcherActiveWorkers.Inc()
	d.eg.Go(func() error {
		defer func() {
			atomic.AddInt32(&d.activeWorkers, -1)
			metrics.DispatcherActiveWorkers.Dec()
		}()
		d.runWorker(extra)
		return nil
	})
}

func (d *Dispatcher) runWorker(extra bool) {
	for {
		it, ok := d.dequeue()
		if !ok {
			return
		}
		d.invokeGated(it)
		if extra && d.QueueDepth() == 0 {
			return
		}
	}
}

func (d *Dispatcher) dequeue() (*item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.priorityQueue) == 0 && len(d.messageQueue) == 0 {
		if !d.running {
			return nil, false
		}
		d.cond.Wait()
	}
	if !d.running {
		return nil, false
	}
	var it *item
	if len(d.priorityQueue) > 0 {
		it = d.priorityQueue[0]
		d.priorityQueue = d.priorityQueue[1:]
	} else {
		it = d.messageQueue[0]
		d.messageQueue = d.messageQueue[1:]
	}
	metrics.DispatcherQueueDepth.Set(float64(len(d.priorityQueue) + len(d.messageQueue)))
	return it, true
}

func (d *Dispatcher) invokeGated(it *item) {
	if it.kind == KindMessage || it.kind == KindAvailability {
		gate := d.keyGate(it.key)
		gate.Lock()
		defer gate.Unlock()
	}
	d.invoke(it)
}

func (d *Dispatcher) keyGate(k serviceKey) *sync.Mutex {
	d.keyMu.Lock()
	defer d.keyMu.Unlock()
	m, ok := d.keyLocks[k]
	if !ok {
		m = &sync.Mutex{}
		d.keyLocks[k] = m
	}
	return m
}

func (d *Dispatcher) invoke(it *item) {
	metrics.DispatchLatency.Observe(time.Since(it.queuedAt).Seconds())

	var timer *time.Timer
	if d.maxDispatchTime > 0 {
		timer = time.AfterFunc(d.maxDispatchTime, func() {
			d.logger.Warn().Str("handler_type", it.kind.String()).Msg("handler exceeded max dispatch time")
			metrics.DispatcherEscalationsTotal.Inc()
			d.maybeSpawnExtraWorker()
		})
	}

	start := time.Now()
	it.fn()
	metrics.HandlerDuration.WithLabelValues(it.kind.String()).Observe(time.Since(start).Seconds())

	if timer != nil {
		timer.Stop()
	}
}

func (d *Dispatcher) maybeSpawnExtraWorker() {
	d.mu.Lock()
	if !d.running || int(atomic.LoadInt32(&d.activeWorkers)) >= d.maxDispatchers {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.spawnWorker(true)
}
