package endpoint

import (
	"sync"

	"github.com/cuemby/someip-core/pkg/someip"
)

type loopbackFrame struct {
	client someip.ClientID
	frame  []byte
}

// LoopbackRouter is an in-process Router for tests and for embedding a
// CoreFacade that never actually talks to the network: every Send is
// handed back to the registered handler as if it had been received,
// through a single buffered channel drained by one goroutine, the same
// single-consumer fan-out shape as the teacher's pkg/events.Broker.run,
// narrowed to one handler instead of many subscribers because
// EndpointRouter's on_message registers exactly one handler.
type LoopbackRouter struct {
	mu      sync.RWMutex
	handler MessageHandler

	frameCh chan loopbackFrame
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewLoopbackRouter creates a LoopbackRouter with the given frame buffer
// depth; 0 uses a default of 256.
func NewLoopbackRouter(bufferDepth int) *LoopbackRouter {
	if bufferDepth <= 0 {
		bufferDepth = 256
	}
	return &LoopbackRouter{
		frameCh: make(chan loopbackFrame, bufferDepth),
		stopCh:  make(chan struct{}),
	}
}

func (r *LoopbackRouter) OnMessage(handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

func (r *LoopbackRouter) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run()
	return nil
}

func (r *LoopbackRouter) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	return nil
}

func (r *LoopbackRouter) Send(client someip.ClientID, frame []byte) error {
	select {
	case <-r.stopCh:
		return ErrRouterStopped
	default:
	}
	select {
	case r.frameCh <- loopbackFrame{client: client, frame: frame}:
		return nil
	case <-r.stopCh:
		return ErrRouterStopped
	}
}

func (r *LoopbackRouter) run() {
	defer r.wg.Done()
	for {
		select {
		case f := <-r.frameCh:
			r.mu.RLock()
			h := r.handler
			r.mu.RUnlock()
			if h != nil {
				h(f.client, f.frame)
			}
		case <-r.stopCh:
			return
		}
	}
}
