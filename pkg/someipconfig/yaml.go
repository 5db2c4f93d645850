package someipconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/someip-core/pkg/someip"
	"gopkg.in/yaml.v3"
)

// rawEventKey is the YAML-friendly form of EventKey; 0xFFFF in any field
// means the wildcard sentinel.
type rawEventKey struct {
	Service  uint16 `yaml:"service"`
	Instance uint16 `yaml:"instance"`
	Event    uint16 `yaml:"event"`
}

func (r rawEventKey) key() EventKey {
	return EventKey{
		Service:  someip.ServiceID(r.Service),
		Instance: someip.InstanceID(r.Instance),
		Event:    someip.EventID(r.Event),
	}
}

type rawEventEntry struct {
	rawEventKey        `yaml:",inline"`
	CycleMs            int64  `yaml:"cycle_ms"`
	ChangeResetsCycle  bool   `yaml:"change_resets_cycle"`
	UpdateOnChange     bool   `yaml:"update_on_change"`
	Reliability        string `yaml:"reliability"`
}

type rawDebounceEntry struct {
	rawEventKey            `yaml:",inline"`
	OnChange               bool          `yaml:"on_change"`
	OnChangeResetsInterval bool          `yaml:"on_change_resets_interval"`
	IntervalMs             int64         `yaml:"interval_ms"`
	Ignore                 map[int]uint8 `yaml:"ignore"`
	SendCurrentValueAfter  bool          `yaml:"send_current_value_after"`
}

type rawDocument struct {
	DiagnosisAddress     uint8              `yaml:"diagnosis_address"`
	DiagnosisMask        uint16             `yaml:"diagnosis_mask"`
	MaxDispatchers       int                `yaml:"max_dispatchers"`
	MaxDispatchTimeMs    int64              `yaml:"max_dispatch_time_ms"`
	ThreadCount          int                `yaml:"thread_count"`
	RequestDebounceMs    int64              `yaml:"request_debounce_time_ms"`
	HasSessionHandling   *bool              `yaml:"has_session_handling"`
	ShutdownTimeoutMs    int64              `yaml:"shutdown_timeout_ms"`
	Events               []rawEventEntry    `yaml:"events"`
	Debounce             []rawDebounceEntry `yaml:"debounce"`
	Security             struct {
		Enabled     bool `yaml:"enabled"`
		External    bool `yaml:"external"`
		Audit       bool `yaml:"audit"`
		AllowRemote bool `yaml:"allow_remote"`
	} `yaml:"security"`
	SuppressMissingEventLogs []rawEventKey `yaml:"suppress_missing_event_logs"`
}

// StaticConfig is an immutable, in-memory Config built once at load time.
// It is safe for concurrent reads from every core component.
type StaticConfig struct {
	diagnosisAddress   uint8
	diagnosisMask      uint16
	maxDispatchers     int
	maxDispatchTime    time.Duration
	threadCount        int
	requestDebounce    time.Duration
	hasSessionHandling bool
	shutdownTimeout    time.Duration
	events             []rawEventEntry
	debounce           []rawDebounceEntry
	security           SecurityConfig
	suppress           []EventKey
}

// LoadYAML reads and parses a YAML configuration file into a StaticConfig.
func LoadYAML(path string) (*StaticConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("someipconfig: read %s: %w", path, err)
	}
	return ParseYAML(b)
}

// ParseYAML parses YAML bytes into a StaticConfig, applying defaults for any
// field the document omits.
func ParseYAML(b []byte) (*StaticConfig, error) {
	var doc rawDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("someipconfig: parse: %w", err)
	}
	return fromDocument(doc), nil
}

func fromDocument(doc rawDocument) *StaticConfig {
	c := &StaticConfig{
		diagnosisAddress:   doc.DiagnosisAddress,
		diagnosisMask:      doc.DiagnosisMask,
		maxDispatchers:     doc.MaxDispatchers,
		maxDispatchTime:    time.Duration(doc.MaxDispatchTimeMs) * time.Millisecond,
		threadCount:        doc.ThreadCount,
		requestDebounce:    time.Duration(doc.RequestDebounceMs) * time.Millisecond,
		hasSessionHandling: true,
		shutdownTimeout:    time.Duration(doc.ShutdownTimeoutMs) * time.Millisecond,
		events:             doc.Events,
		debounce:           doc.Debounce,
		security: SecurityConfig{
			Enabled:     doc.Security.Enabled,
			External:    doc.Security.External,
			Audit:       doc.Security.Audit,
			AllowRemote: doc.Security.AllowRemote,
		},
	}
	if doc.HasSessionHandling != nil {
		c.hasSessionHandling = *doc.HasSessionHandling
	}
	if c.maxDispatchers == 0 {
		c.maxDispatchers = defaultMaxDispatchers
	}
	if c.maxDispatchTime == 0 {
		c.maxDispatchTime = defaultMaxDispatchTime
	}
	if c.threadCount == 0 {
		c.threadCount = defaultThreadCount
	}
	if c.shutdownTimeout == 0 {
		c.shutdownTimeout = defaultShutdownTimeout
	}
	for _, k := range doc.SuppressMissingEventLogs {
		c.suppress = append(c.suppress, k.key())
	}
	return c
}

const (
	defaultMaxDispatchers  = 4
	defaultMaxDispatchTime = 2 * time.Second
	defaultThreadCount     = 2
	defaultShutdownTimeout = 5 * time.Second
)

func (c *StaticConfig) DiagnosisAddress() uint8            { return c.diagnosisAddress }
func (c *StaticConfig) DiagnosisMask() uint16               { return c.diagnosisMask }
func (c *StaticConfig) MaxDispatchers() int                 { return c.maxDispatchers }
func (c *StaticConfig) MaxDispatchTime() time.Duration       { return c.maxDispatchTime }
func (c *StaticConfig) ThreadCount() int                    { return c.threadCount }
func (c *StaticConfig) RequestDebounceTime() time.Duration  { return c.requestDebounce }
func (c *StaticConfig) HasSessionHandling() bool            { return c.hasSessionHandling }
func (c *StaticConfig) ShutdownTimeout() time.Duration       { return c.shutdownTimeout }
func (c *StaticConfig) Security() SecurityConfig            { return c.security }

func (c *StaticConfig) Event(key EventKey) (EventConfig, bool) {
	for _, e := range c.events {
		if key.matches(e.key()) {
			return EventConfig{
				CycleMs:           e.CycleMs,
				ChangeResetsCycle: e.ChangeResetsCycle,
				UpdateOnChange:    e.UpdateOnChange,
				Reliability:       parseReliability(e.Reliability),
			}, true
		}
	}
	return EventConfig{}, false
}

func (c *StaticConfig) Debounce(key EventKey) (DebounceConfig, bool) {
	for _, d := range c.debounce {
		if key.matches(d.key()) {
			ignore := make(map[int]byte, len(d.Ignore))
			for idx, mask := range d.Ignore {
				ignore[idx] = mask
			}
			interval := d.IntervalMs
			if interval == 0 {
				interval = -1
			}
			return DebounceConfig{
				OnChange:               d.OnChange,
				OnChangeResetsInterval: d.OnChangeResetsInterval,
				IntervalMs:             interval,
				Ignore:                 ignore,
				SendCurrentValueAfter:  d.SendCurrentValueAfter,
			}, true
		}
	}
	return DebounceConfig{}, false
}

func (c *StaticConfig) SuppressMissingEventLog(key EventKey) bool {
	for _, pattern := range c.suppress {
		if key.matches(pattern) {
			return true
		}
	}
	return false
}

func parseReliability(s string) someip.Reliability {
	switch s {
	case "Reliable":
		return someip.ReliabilityReliable
	case "Unreliable":
		return someip.ReliabilityUnreliable
	case "Both":
		return someip.ReliabilityBoth
	default:
		return someip.ReliabilityUnknown
	}
}
