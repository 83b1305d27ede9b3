// Package trial derives the state of the one-time trial window from a
// persisted start record. Everything here is pure date arithmetic; reading and
// writing the record is the caller's job.
package trial

import (
	"encoding/json"
	"math"
	"time"
)

const (
	// Day is the unit days_remaining is counted in.
	Day = 24 * time.Hour
	// DefaultDuration is the length of the trial window.
	DefaultDuration = 30 * Day
)

// Record is the persisted trial start marker. StartDate is meaningful only
// when Started is true.
type Record struct {
	Started   bool
	StartDate time.Time
}

// State is the trial state derived from a Record at a point in time.
type State struct {
	Active        bool
	Started       bool
	StartDate     time.Time
	ExpireDate    time.Time
	DaysRemaining int
	// Remaining is the time left until ExpireDate, zero once expired.
	Remaining time.Duration
	CanStart  bool
}

// HoursRemaining returns the whole hours left in the trial.
func (s State) HoursRemaining() int {
	return int(s.Remaining / time.Hour)
}

func (s State) MarshalJSON() ([]byte, error) {
	type wire struct {
		Active         bool    `json:"active"`
		Started        bool    `json:"started"`
		StartDate      *string `json:"start_date"`
		ExpireDate     *string `json:"expire_date"`
		DaysRemaining  int     `json:"days_remaining"`
		HoursRemaining int     `json:"hours_remaining"`
		CanStart       bool    `json:"can_start"`
	}
	w := wire{
		Active:         s.Active,
		Started:        s.Started,
		DaysRemaining:  s.DaysRemaining,
		HoursRemaining: s.HoursRemaining(),
		CanStart:       s.CanStart,
	}
	if s.Started {
		start := FormatDate(s.StartDate)
		expire := FormatDate(s.ExpireDate)
		w.StartDate, w.ExpireDate = &start, &expire
	}
	return json.Marshal(w)
}

// Clock computes trial state for a trial window of fixed length.
type Clock struct {
	duration time.Duration
}

// NewClock returns a Clock for a window of the given length. A non-positive
// duration selects DefaultDuration.
func NewClock(duration time.Duration) Clock {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return Clock{duration: duration}
}

// Duration returns the trial window length.
func (c Clock) Duration() time.Duration {
	if c.duration <= 0 {
		return DefaultDuration
	}
	return c.duration
}

// State derives the trial state of r at now.
//
// Days remaining is the number of whole days left until the expiry instant
// plus one, so the final partial day counts as 1, and 0 from the expiry
// instant on. The count never exceeds the window length in days, which also
// covers a start date in the future.
func (c Clock) State(r Record, now time.Time) State {
	if !r.Started {
		return State{CanStart: true}
	}

	window := c.Duration()
	expire := r.StartDate.Add(window)
	st := State{
		Started:    true,
		StartDate:  r.StartDate,
		ExpireDate: expire,
	}
	if !now.Before(expire) {
		return st
	}

	windowDays := int(math.Ceil(float64(window) / float64(Day)))
	remaining := expire.Sub(now)
	days := int(remaining/Day) + 1
	st.DaysRemaining = min(max(days, 0), windowDays)
	st.Remaining = min(remaining, window)
	st.Active = st.DaysRemaining > 0
	return st
}

// Activate returns a started record beginning at now, truncated to the
// second the stored date format can represent. It does not look at any
// existing record.
func (c Clock) Activate(now time.Time) Record {
	return Record{Started: true, StartDate: now.Truncate(time.Second)}
}

// ComputeState is State on a Clock with the default window.
func ComputeState(r Record, now time.Time) State {
	return NewClock(DefaultDuration).State(r, now)
}

// Activate is Activate on a Clock with the default window.
func Activate(now time.Time) Record {
	return NewClock(DefaultDuration).Activate(now)
}
