// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"maps"
	"slices"
	"time"

	"github.com/telekom/escalation-sync/pkg/codec"
	"github.com/telekom/escalation-sync/pkg/policy"
)

// Pending marks a dispatched transition whose outcome has not been seen in a
// pushed state yet.
type Pending struct {
	ID       string
	Action   policy.Action
	Incident int64
	// From is the level that was running when the transition was evaluated.
	From      int
	Commands  []codec.Command
	Sent      int
	Expect    policy.Expectation
	CreatedAt time.Time
}

// Partial reports whether some commands of the sequence were never sent.
func (p Pending) Partial() bool {
	return p.Sent < len(p.Commands)
}

// Unsent returns the commands that did not reach the service.
func (p Pending) Unsent() []codec.Command {
	return slices.Clone(p.Commands[p.Sent:])
}

func (p *Pending) clone() Pending {
	c := *p
	c.Commands = slices.Clone(p.Commands)
	return c
}

// Draft holds annotation and operator edits sent to the service but not yet
// visible in a pushed state. Edits that could not be sent are kept as well.
type Draft struct {
	Annotations map[int]string
	Operator    string
}

func (d *Draft) empty() bool {
	return len(d.Annotations) == 0 && d.Operator == ""
}

func (d *Draft) clone() Draft {
	return Draft{Operator: d.Operator, Annotations: maps.Clone(d.Annotations)}
}
