package ids

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/someip-core/pkg/log"
	"github.com/cuemby/someip-core/pkg/someip"
)

// ErrPoolExhausted is returned when no free client id remains in the
// configured diagnosis range.
var ErrPoolExhausted = errors.New("ids: client id pool exhausted")

// Pool allocates and tracks client ids for a single network, backed by a
// Store for cross-process persistence.
type Pool struct {
	mu sync.Mutex

	network string
	base    someip.ClientID
	span    someip.ClientID
	routingHostID someip.ClientID

	store Store
	used  map[someip.ClientID]string

	hasRoutingHost bool
	routingHost    someip.ClientID
}

// NewPool loads the persisted used-id set for network from store and
// computes the allocatable range from diagnosisAddress/diagnosisMask per
// spec: base = (diagnosisAddress<<8) & diagnosisMask, span = ^diagnosisMask.
// A load failure (corruption) is logged and treated as an empty set.
func NewPool(network string, diagnosisAddress uint8, diagnosisMask uint16, store Store) *Pool {
	base := someip.ClientID((uint16(diagnosisAddress) << 8) & diagnosisMask)
	span := someip.ClientID(^diagnosisMask)

	p := &Pool{
		network:       network,
		base:          base,
		span:          span,
		routingHostID: base | 1,
		store:         store,
		used:          make(map[someip.ClientID]string),
	}

	used, routingHost, hasRoutingHost, err := store.Load()
	if err != nil {
		log.WithComponent("ids").Warn().Err(err).Str("network", network).
			Msg("client id set unreadable, starting from an empty pool")
		return p
	}
	p.used = used
	p.routingHost = routingHost
	p.hasRoutingHost = hasRoutingHost
	return p
}

// Attach is the entry point used by CoreFacade.init: the first attacher to
// a network becomes its routing host and receives base|1; every later
// attacher goes through normal allocation.
func (p *Pool) Attach(requested someip.ClientID, app string) (someip.ClientID, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hasRoutingHost {
		if err := p.store.SetRoutingHost(p.routingHostID); err != nil {
			return someip.IllegalClient, false, fmt.Errorf("ids: elect routing host: %w", err)
		}
		if err := p.assignLocked(p.routingHostID, app); err != nil {
			return someip.IllegalClient, false, err
		}
		p.hasRoutingHost = true
		p.routingHost = p.routingHostID
		return p.routingHostID, true, nil
	}

	id, err := p.requestLocked(requested, app)
	return id, false, err
}

// Request allocates a client id without touching routing-host election.
func (p *Pool) Request(requested someip.ClientID, app string) (someip.ClientID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestLocked(requested, app)
}

func (p *Pool) requestLocked(requested someip.ClientID, app string) (someip.ClientID, error) {
	upper := p.base | p.span

	if requested != someip.IllegalClient && requested != p.routingHostID {
		if _, taken := p.used[requested]; !taken {
			if err := p.assignLocked(requested, app); err != nil {
				return someip.IllegalClient, err
			}
			return requested, nil
		}
	}

	for id := p.base + 1; id <= upper; id++ {
		if id == p.routingHostID {
			continue
		}
		if _, taken := p.used[id]; taken {
			continue
		}
		if err := p.assignLocked(id, app); err != nil {
			return someip.IllegalClient, err
		}
		return id, nil
	}

	return someip.IllegalClient, ErrPoolExhausted
}

func (p *Pool) assignLocked(id someip.ClientID, app string) error {
	if err := p.store.Put(id, app); err != nil {
		return fmt.Errorf("ids: persist client id %#04x: %w", uint16(id), err)
	}
	p.used[id] = app
	log.WithClientID(log.WithComponent("ids"), uint16(id)).Debug().
		Str("app", app).Str("network", p.network).Msg("client id allocated")
	return nil
}

// Release frees id, removing it from both the in-memory and persisted set.
func (p *Pool) Release(id someip.ClientID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.used[id]; !ok {
		return nil
	}
	if err := p.store.Delete(id); err != nil {
		return fmt.Errorf("ids: release client id %#04x: %w", uint16(id), err)
	}
	delete(p.used, id)
	if id == p.routingHost {
		p.hasRoutingHost = false
		p.routingHost = someip.IllegalClient
	}
	return nil
}

// Reset clears the entire used-id set and routing-host election, as the
// routing host does on a clean shutdown.
func (p *Pool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.Clear(); err != nil {
		return fmt.Errorf("ids: reset pool: %w", err)
	}
	p.used = make(map[someip.ClientID]string)
	p.hasRoutingHost = false
	p.routingHost = someip.IllegalClient
	return nil
}

// Snapshot returns a copy of the currently allocated id-to-app-name set,
// for diagnostics (someip-routingd client-id list).
func (p *Pool) Snapshot() map[someip.ClientID]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make(map[someip.ClientID]string, len(p.used))
	for id, app := range p.used {
		cp[id] = app
	}
	return cp
}

// InUse returns the number of currently allocated client ids.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}

// RoutingHost returns the current routing host's client id, if elected.
func (p *Pool) RoutingHost() (someip.ClientID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.routingHost, p.hasRoutingHost
}
