package someipconfig

import (
	"time"

	"github.com/cuemby/someip-core/pkg/someip"
)

// EventKey identifies a single event within a service instance.
type EventKey struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
	Event    someip.EventID
}

// matches reports whether key matches a (possibly wildcarded) pattern key.
func (k EventKey) matches(pattern EventKey) bool {
	if pattern.Service != someip.AnyService && pattern.Service != k.Service {
		return false
	}
	if pattern.Instance != someip.AnyInstance && pattern.Instance != k.Instance {
		return false
	}
	if pattern.Event != someip.AnyEvent && pattern.Event != k.Event {
		return false
	}
	return true
}

// EventConfig is the per-event tuning described in spec.md 6.3.
type EventConfig struct {
	CycleMs          int64
	ChangeResetsCycle bool
	UpdateOnChange   bool
	Reliability      someip.Reliability
}

// DebounceConfig is the per-(service,instance,event) debounce filter
// described in spec.md 6.3, field-for-field compatible with
// eventstore.DebounceFilter.
type DebounceConfig struct {
	OnChange               bool
	OnChangeResetsInterval bool
	IntervalMs             int64 // -1 means never forward on interval alone
	Ignore                 map[int]byte
	SendCurrentValueAfter  bool
}

// SecurityConfig is the security posture described in spec.md 6.3.
type SecurityConfig struct {
	Enabled     bool
	External    bool
	Audit       bool
	AllowRemote bool
}

// Config is the read-only view the core consumes. Every getter mirrors one
// option from spec.md 6.3.
type Config interface {
	DiagnosisAddress() uint8
	DiagnosisMask() uint16
	MaxDispatchers() int
	MaxDispatchTime() time.Duration
	ThreadCount() int
	RequestDebounceTime() time.Duration
	HasSessionHandling() bool
	ShutdownTimeout() time.Duration

	Event(key EventKey) (EventConfig, bool)
	Debounce(key EventKey) (DebounceConfig, bool)
	Security() SecurityConfig
	SuppressMissingEventLog(key EventKey) bool
}
