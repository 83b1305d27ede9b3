package guard

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// WarningKind names an expiry warning.
type WarningKind string

const (
	TrialExpiringSoon   WarningKind = "trial_expiring_soon"
	LicenseExpiringSoon WarningKind = "license_expiring_soon"
)

// Warning tells the user that the entitlement is about to run out.
type Warning struct {
	Kind      WarningKind
	Remaining time.Duration
}

// Message renders the warning for display.
func (w Warning) Message() string {
	switch w.Kind {
	case TrialExpiringSoon:
		return fmt.Sprintf("Your MARSLOG trial expires in %d hours.", int(w.Remaining/time.Hour))
	case LicenseExpiringSoon:
		return fmt.Sprintf("Your MARSLOG license will expire in %d days.", int(w.Remaining/(24*time.Hour)))
	default:
		return ""
	}
}

func (w Warning) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind             WarningKind `json:"kind"`
		RemainingSeconds int64       `json:"remaining_seconds"`
		HoursRemaining   int         `json:"hours_remaining"`
		DaysRemaining    int         `json:"days_remaining"`
		Message          string      `json:"message"`
	}{
		Kind:             w.Kind,
		RemainingSeconds: int64(w.Remaining / time.Second),
		HoursRemaining:   int(w.Remaining / time.Hour),
		DaysRemaining:    int(w.Remaining / (24 * time.Hour)),
		Message:          w.Message(),
	})
}

type warningKey struct {
	session string
	kind    WarningKind
}

type marker struct {
	warning Warning
	armedAt time.Time
	taken   bool
}

// warningBox holds the per-session "warning pending" markers. A warning is
// attached when its marker is armed and then stays quiet until the cycle
// elapses, whether or not it was taken in between.
type warningBox struct {
	cycle time.Duration

	mu        sync.Mutex
	pending   map[warningKey]*marker
	lastSweep time.Time
}

func newWarningBox(cycle time.Duration) *warningBox {
	return &warningBox{
		cycle:   cycle,
		pending: make(map[warningKey]*marker),
	}
}

// offer records the warnings whose conditions currently hold for session and
// returns the ones that (re)armed. Markers for conditions that no longer
// hold are dropped, so a returning condition warns immediately.
func (b *warningBox) offer(session string, active []Warning, now time.Time) []Warning {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sweep(now)

	holding := make(map[WarningKind]bool, len(active))
	for _, w := range active {
		holding[w.Kind] = true
	}
	for _, kind := range []WarningKind{TrialExpiringSoon, LicenseExpiringSoon} {
		if !holding[kind] {
			delete(b.pending, warningKey{session, kind})
		}
	}

	var armed []Warning
	for _, w := range active {
		key := warningKey{session, w.Kind}
		if m, ok := b.pending[key]; ok && now.Sub(m.armedAt) < b.cycle {
			m.warning = w
			continue
		}
		b.pending[key] = &marker{warning: w, armedAt: now}
		armed = append(armed, w)
	}
	return armed
}

// take returns the armed warnings of session not taken yet and marks them
// taken.
func (b *warningBox) take(session string) []Warning {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Warning
	for key, m := range b.pending {
		if key.session != session || m.taken {
			continue
		}
		m.taken = true
		out = append(out, m.warning)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind > out[j].Kind })
	return out
}

// sweep drops markers older than a cycle, at most once per cycle.
func (b *warningBox) sweep(now time.Time) {
	if now.Sub(b.lastSweep) < b.cycle {
		return
	}
	b.lastSweep = now
	for key, m := range b.pending {
		if now.Sub(m.armedAt) >= b.cycle {
			delete(b.pending, key)
		}
	}
}

func (b *warningBox) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
