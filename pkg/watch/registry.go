// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package watch keeps the set of incidents the client currently cares about and
// asks the escalation service for their state when that set changes.
package watch

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/telekom/escalation-sync/pkg/codec"
	"github.com/telekom/escalation-sync/pkg/metrics"
)

// Sender delivers one command without queueing. It reports whether the command
// was written.
type Sender interface {
	Send(cmd codec.Command) bool
}

// Registry holds the watch set. It never polls: state requests go out only when
// the set is replaced or explicitly re-asserted with Resync.
type Registry struct {
	mu     sync.RWMutex
	ids    []int64
	sender Sender
	log    *zap.SugaredLogger
}

// NewRegistry creates an empty registry sending through sender.
func NewRegistry(sender Sender, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{sender: sender, log: log.Named("watch")}
}

// Replace swaps the watch set for ids (deduplicated, non-positive ids dropped)
// and sends get_state for each of them. It returns how many requests were sent.
func (r *Registry) Replace(ids []int64) int {
	set := normalize(ids)

	r.mu.Lock()
	r.ids = set
	r.mu.Unlock()

	metrics.WatchedIncidents.Set(float64(len(set)))
	return r.request(set)
}

// Resync sends get_state for every watched incident again, e.g. after a reconnect.
func (r *Registry) Resync() int {
	return r.request(r.IDs())
}

func (r *Registry) request(ids []int64) int {
	sent := 0
	for _, id := range ids {
		if r.sender.Send(codec.GetState(id)) {
			sent++
		}
	}
	if sent < len(ids) {
		r.log.Debugw("State requests not delivered", "requested", len(ids), "sent", sent)
	}
	return sent
}

// IDs returns the watched incident ids in ascending order.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ids)
}

// Contains reports whether id is watched.
func (r *Registry) Contains(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := slices.BinarySearch(r.ids, id)
	return found
}

// Len returns the size of the watch set.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

func normalize(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
