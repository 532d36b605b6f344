// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"errors"
	"fmt"

	"github.com/telekom/escalation-sync/pkg/policy"
)

var (
	// ErrNotConnected is returned when a transition could not be sent because the
	// connection to the escalation service is down.
	ErrNotConnected = errors.New("not connected to escalation service")
	// ErrClosed is returned by operations on a closed tracker.
	ErrClosed = errors.New("tracker closed")
)

// PartialDispatchError reports a transition of which only the first Sent of Total
// commands reached the service. The marker stays listed by PartialTransitions
// until a pushed state shows the intended outcome.
type PartialDispatchError struct {
	Pending  string
	Incident int64
	Action   policy.Action
	Sent     int
	Total    int
}

func (e *PartialDispatchError) Error() string {
	return fmt.Sprintf("%s for incident %d only partially sent: %d of %d commands (pending %s)",
		e.Action, e.Incident, e.Sent, e.Total, e.Pending)
}

func (e *PartialDispatchError) Unwrap() error {
	return ErrNotConnected
}
