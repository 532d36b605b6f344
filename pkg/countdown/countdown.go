// Package countdown derives display values for level timers from the
// snapshots held in the incident store.
package countdown

import (
	"fmt"
	"time"

	"github.com/telekom/escalation-sync/pkg/incident"
)

// StateSource is the read side of the incident store.
type StateSource interface {
	Get(id int64) (incident.State, bool)
}

// Projector answers remaining-time questions for incidents in a StateSource.
type Projector struct {
	src StateSource
	now func() time.Time
}

// NewProjector creates a projector over src.
func NewProjector(src StateSource) *Projector {
	return &Projector{src: src, now: time.Now}
}

// WithClock replaces the clock used by Live and returns p.
func (p *Projector) WithClock(now func() time.Time) *Projector {
	if now != nil {
		p.now = now
	}
	return p
}

// resolve maps level 0 onto the running level.
func resolve(st incident.State, level int) int {
	if level == 0 {
		return st.RunningLevel()
	}
	return level
}

// IsActive reports whether level (0 for any) is the running level of the incident.
func (p *Projector) IsActive(id int64, level int) bool {
	st, _ := p.src.Get(id)
	l := resolve(st, level)
	return l != 0 && st.RunningLevel() == l
}

// Remaining returns the last reported remaining seconds of level, or 0 when the
// level is not running. Level 0 selects the running level. The value is the
// server snapshot and is never decremented locally.
func (p *Projector) Remaining(id int64, level int) int64 {
	st, _ := p.src.Get(id)
	return RemainingOf(st, level)
}

// Live is Remaining advanced by the local clock since the snapshot arrived,
// clamped at zero. It is meant for display between pushes only.
func (p *Projector) Live(id int64, level int) int64 {
	st, _ := p.src.Get(id)
	return LiveAt(st, level, p.now())
}

// LiveOf is Live for a state the caller already holds.
func (p *Projector) LiveOf(st incident.State, level int) int64 {
	return LiveAt(st, level, p.now())
}

// Progress returns the share of levels already finished, between 0 and 1.
// A finalized incident counts as complete.
func (p *Projector) Progress(id int64) float64 {
	st, _ := p.src.Get(id)
	return ProgressOf(st)
}

// RemainingOf is Remaining computed from st alone.
func RemainingOf(st incident.State, level int) int64 {
	l := resolve(st, level)
	if l == 0 || st.RunningLevel() != l {
		return 0
	}
	return st.Level(l).Remaining
}

// LiveAt projects the remaining time of level in st to now. Both values come
// from the same snapshot.
func LiveAt(st incident.State, level int, now time.Time) int64 {
	rem := RemainingOf(st, level)
	if rem == 0 || st.ReceivedAt.IsZero() {
		return rem
	}
	elapsed := int64(now.Sub(st.ReceivedAt) / time.Second)
	return max(rem-max(elapsed, 0), 0)
}

// ProgressOf is Progress computed from st alone.
func ProgressOf(st incident.State) float64 {
	if st.IsFinalized() {
		return 1
	}
	return float64(st.FinishedLevels()) / incident.LevelCount
}

// FormatTime renders seconds as zero-padded MM:SS. Minutes are not wrapped into
// hours. Values <= 0 render as 00:00.
func FormatTime(seconds int64) string {
	if seconds <= 0 {
		return "00:00"
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
