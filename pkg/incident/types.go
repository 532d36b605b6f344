// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package incident

import (
	"fmt"
	"time"
)

// LevelCount is the number of escalation levels on the ladder.
const LevelCount = 5

// DefaultLevelDuration is the window granted to each level when its timer starts.
const DefaultLevelDuration = 1200 * time.Second

// LevelStatus is the lifecycle status of one escalation level.
type LevelStatus string

const (
	StatusIdle     LevelStatus = "idle"
	StatusRunning  LevelStatus = "running"
	StatusFinished LevelStatus = "finished"
)

// Valid reports whether s is one of the known level statuses.
func (s LevelStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusFinished:
		return true
	}
	return false
}

// FinalStatus is the terminal marker of an incident. The empty value means open.
type FinalStatus string

const (
	FinalOpen      FinalStatus = ""
	FinalFinalized FinalStatus = "finalized"
)

// Level holds the server-reported state of one escalation level.
type Level struct {
	Status LevelStatus `json:"status" yaml:"status"`
	// Remaining is the number of seconds left as of the last snapshot. It is only
	// meaningful while the level is running.
	Remaining  int64  `json:"remaining" yaml:"remaining"`
	Annotation string `json:"annotation,omitempty" yaml:"annotation,omitempty"`
}

// State is the last known snapshot of one incident.
type State struct {
	ID          int64             `json:"id" yaml:"id"`
	Levels      [LevelCount]Level `json:"levels" yaml:"levels"`
	Operator    string            `json:"operator,omitempty" yaml:"operator,omitempty"`
	FinalStatus FinalStatus       `json:"finalStatus,omitempty" yaml:"finalStatus,omitempty"`
	// ReceivedAt is the local time at which the snapshot was applied.
	ReceivedAt time.Time `json:"receivedAt" yaml:"receivedAt"`
}

// NewState returns the implicit state of an incident nobody has reported on yet:
// every level idle, no operator, not finalized.
func NewState(id int64) State {
	s := State{ID: id}
	for i := range s.Levels {
		s.Levels[i].Status = StatusIdle
	}
	return s
}

// ValidLevel reports whether level is on the ladder (1-based).
func ValidLevel(level int) bool {
	return level >= 1 && level <= LevelCount
}

// Level returns the level with the given 1-based index. Out of range indexes
// yield an idle level.
func (s State) Level(level int) Level {
	if !ValidLevel(level) {
		return Level{Status: StatusIdle}
	}
	return s.Levels[level-1]
}

// RunningLevel scans levels 1 to 5 and returns the first running one, or 0.
func (s State) RunningLevel() int {
	for i, l := range s.Levels {
		if l.Status == StatusRunning {
			return i + 1
		}
	}
	return 0
}

// IsFinalized reports whether the incident reached its terminal state.
func (s State) IsFinalized() bool {
	return s.FinalStatus == FinalFinalized
}

// FinishedLevels counts levels that already ran to completion.
func (s State) FinishedLevels() int {
	n := 0
	for _, l := range s.Levels {
		if l.Status == StatusFinished {
			n++
		}
	}
	return n
}

// Phase returns a short description of where the incident stands.
func (s State) Phase() string {
	switch {
	case s.IsFinalized():
		return "finalized"
	case s.RunningLevel() > 0:
		return fmt.Sprintf("level %d", s.RunningLevel())
	default:
		return "idle"
	}
}

// Validate checks the structural invariants of a snapshot.
func (s State) Validate() error {
	if s.ID <= 0 {
		return fmt.Errorf("incident id must be positive, got %d", s.ID)
	}
	running := 0
	for i, l := range s.Levels {
		if !l.Status.Valid() {
			return fmt.Errorf("level %d: unknown status %q", i+1, l.Status)
		}
		if l.Status == StatusRunning {
			running++
		}
		if l.Remaining < 0 {
			return fmt.Errorf("level %d: negative remaining time %d", i+1, l.Remaining)
		}
	}
	if running > 1 {
		return fmt.Errorf("%d levels running, at most one allowed", running)
	}
	if s.IsFinalized() && running > 0 {
		return fmt.Errorf("finalized incident still has level %d running", s.RunningLevel())
	}
	if s.FinalStatus != FinalOpen && s.FinalStatus != FinalFinalized {
		return fmt.Errorf("unknown final status %q", s.FinalStatus)
	}
	return nil
}
