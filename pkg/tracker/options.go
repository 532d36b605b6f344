// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"time"

	"go.uber.org/zap"

	"github.com/telekom/escalation-sync/pkg/audit"
	"github.com/telekom/escalation-sync/pkg/incident"
	"github.com/telekom/escalation-sync/pkg/policy"
)

// DefaultResyncAfter is the delay before a get_state follow-up for a dispatched
// transition that has not been confirmed yet.
const DefaultResyncAfter = time.Second

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *Tracker) {
		if log != nil {
			t.log = log.Named("tracker")
			t.storeLog = log
		}
	}
}

// WithEngine replaces the default policy engine, e.g. to change the level duration.
func WithEngine(e *policy.Engine) Option {
	return func(t *Tracker) {
		if e != nil {
			t.engine = e
		}
	}
}

// WithAudit sends transition and connection events to m. The caller owns m.
func WithAudit(m *audit.Manager) Option {
	return func(t *Tracker) {
		t.audit = m
	}
}

// WithResyncAfter sets the get_state follow-up delay. Zero disables the follow-up.
func WithResyncAfter(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.resyncAfter = d
		}
	}
}

// WithResyncOnReconnect re-applies the watch set every time the connection comes
// back. Off by default: after a reconnect nothing is requested until Resync or
// Watch is called.
func WithResyncOnReconnect(enabled bool) Option {
	return func(t *Tracker) {
		t.resyncOnReconnect = enabled
	}
}

// WithClock overrides the clock used for markers and store timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithStoreOptions passes options to the incident store.
func WithStoreOptions(opts ...incident.StoreOption) Option {
	return func(t *Tracker) {
		t.storeOpts = append(t.storeOpts, opts...)
	}
}
