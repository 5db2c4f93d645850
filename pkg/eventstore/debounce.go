package eventstore

import "time"

// DebounceFilter implements the epsilon/debounce decision described in
// spec.md 4.3, field-for-field matching someipconfig.DebounceConfig.
type DebounceFilter struct {
	OnChange               bool
	OnChangeResetsInterval bool
	IntervalMs             int64 // -1 means never forward on interval alone
	Ignore                 map[int]byte
	SendCurrentValueAfter  bool
}

// debounceState tracks the mutable bookkeeping the filter needs across calls; kept
// separate from the configuration so a DebounceFilter value can be shared
// by value while state lives once per event record.
type debounceState struct {
	lastForwarded time.Time
	everForwarded bool
}

// evaluate runs the five-step algorithm from spec.md 4.3 and reports
// whether the update should be forwarded, whether the payload itself
// changed, and the new debounceState to store.
func (f DebounceFilter) evaluate(old, next []byte, now time.Time, st debounceState) (forward bool, changed bool, newSt debounceState) {
	changed = computeChanged(old, next, f.Ignore)

	// With on_change off, direct set_payload calls never forward on their
	// own merit; only the very first one bootstraps (seeding lastForwarded
	// so the interval clause below has a baseline to measure from) and the
	// interval clause itself can forward after that. This mirrors vsomeip's
	// far-future initial last_forwarded_, which keeps the interval clause
	// dormant until a first real forward lands.
	bootstrap := !f.OnChange && !st.everForwarded

	// Step 4: an interval-based forward is possible once a baseline forward
	// has happened at least once.
	elapsed := false
	if f.IntervalMs >= 0 && st.everForwarded {
		elapsed = now.Sub(st.lastForwarded) >= time.Duration(f.IntervalMs)*time.Millisecond
	}

	// Step 3: on_change gates forwarding on change alone. When it is false,
	// direct set_payload calls are never forwarded by the change gate at
	// all; only the bootstrap call and the interval clause can forward.
	changeGate := f.OnChange && changed

	forward = bootstrap || changeGate || elapsed

	newSt = st
	if forward {
		// A forward triggered by bootstrap or interval always resets the
		// clock. A forward triggered by change only resets it when
		// configured to, or when it is the first forward of all.
		if bootstrap || elapsed || f.OnChangeResetsInterval || !changed || !st.everForwarded {
			newSt.lastForwarded = now
			newSt.everForwarded = true
		}
	}
	return forward, changed, newSt
}

// computeChanged implements steps 1-2 of the algorithm: byte-wise equality
// under an optional per-index ignore mask, with differing lengths treated
// as a change unless every differing trailing byte is fully masked.
func computeChanged(old, next []byte, ignore map[int]byte) bool {
	if len(old) != len(next) {
		minLen := len(old)
		longer := next
		if len(old) > len(next) {
			minLen = len(next)
			longer = old
		}
		for k := minLen; k < len(longer); k++ {
			mask, ok := ignore[k]
			if !ok || mask != 0xFF {
				return true
			}
		}
		return bytesDifferWithIgnore(old[:minLen], next[:minLen], ignore)
	}
	return bytesDifferWithIgnore(old, next, ignore)
}

func bytesDifferWithIgnore(a, b []byte, ignore map[int]byte) bool {
	for k := 0; k < len(a); k++ {
		if mask, ok := ignore[k]; ok {
			if a[k]&^mask != b[k]&^mask {
				return true
			}
			continue
		}
		if a[k] != b[k] {
			return true
		}
	}
	return false
}
