/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/escalation-sync/pkg/metrics"
)

// Manager coordinates audit event creation and distribution. Emit never blocks
// the caller: events go through a bounded queue drained by a single worker, so
// sinks observe events in emission order.
type Manager struct {
	sink       Sink
	asyncQueue chan *Event
	logger     *zap.Logger
	actor      Actor
	wg         sync.WaitGroup

	// guards closing asyncQueue against concurrent Emit
	mu     sync.RWMutex
	closed bool

	queuedEvents    atomic.Int64
	droppedEvents   atomic.Int64
	processedEvents atomic.Int64

	config ManagerConfig
}

// ManagerConfig configures the audit Manager.
type ManagerConfig struct {
	// QueueSize is the size of the async event queue.
	// Default: 1024
	QueueSize int

	// WriteTimeout is the timeout for writing to sinks.
	// Default: 5s
	WriteTimeout time.Duration

	// Actor is stamped on every event that does not carry its own.
	Actor Actor
}

// DefaultManagerConfig returns the default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		QueueSize:    1024,
		WriteTimeout: 5 * time.Second,
	}
}

// NewManager creates a Manager and starts its worker.
func NewManager(sink Sink, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	m := &Manager{
		sink:       sink,
		asyncQueue: make(chan *Event, cfg.QueueSize),
		logger:     logger.Named("audit-manager"),
		actor:      cfg.Actor,
		config:     cfg,
	}

	m.wg.Add(1)
	go m.processQueue()

	logger.Debug("audit manager started",
		zap.String("sink", sink.Name()),
		zap.Int("queue_size", cfg.QueueSize))

	return m
}

func (m *Manager) fill(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityForEventType(event.Type)
	}
	if event.Actor.User == "" {
		event.Actor = m.actor
	}
}

// Emit queues an audit event. If the queue is full or the manager is closed the
// event is dropped and counted.
func (m *Manager) Emit(event *Event) {
	m.fill(event)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.droppedEvents.Add(1)
		metrics.AuditEventsDropped.WithLabelValues("closed").Inc()
		return
	}

	select {
	case m.asyncQueue <- event:
		m.queuedEvents.Add(1)
	default:
		m.droppedEvents.Add(1)
		metrics.AuditEventsDropped.WithLabelValues("queue_full").Inc()
		m.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
}

// EmitSync writes an audit event directly to the sink.
func (m *Manager) EmitSync(ctx context.Context, event *Event) error {
	m.fill(event)
	return m.write(ctx, event)
}

func (m *Manager) write(ctx context.Context, event *Event) error {
	if err := m.sink.Write(ctx, event); err != nil {
		metrics.AuditSinkErrors.WithLabelValues(m.sink.Name(), "write").Inc()
		return err
	}
	m.processedEvents.Add(1)
	metrics.AuditEventsProcessed.WithLabelValues(m.sink.Name()).Inc()
	return nil
}

func (m *Manager) processQueue() {
	defer m.wg.Done()

	for event := range m.asyncQueue {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
		if err := m.write(ctx, event); err != nil {
			m.logger.Error("failed to write audit event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
		cancel()
	}
}

// Close drains the queue, stops the worker and closes the sink.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.asyncQueue)
	m.mu.Unlock()

	m.wg.Wait()

	m.logger.Debug("audit manager stopped",
		zap.Int64("processed", m.processedEvents.Load()),
		zap.Int64("dropped", m.droppedEvents.Load()))

	return m.sink.Close()
}

// Stats returns current audit manager statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		QueuedEvents:    m.queuedEvents.Load(),
		ProcessedEvents: m.processedEvents.Load(),
		DroppedEvents:   m.droppedEvents.Load(),
		QueueLength:     len(m.asyncQueue),
		QueueCapacity:   cap(m.asyncQueue),
	}
}

// ManagerStats contains audit manager statistics.
type ManagerStats struct {
	QueuedEvents    int64
	ProcessedEvents int64
	DroppedEvents   int64
	QueueLength     int
	QueueCapacity   int
}

// --- Helper methods for common events ---

// TransitionDispatched records a transition whose commands were all sent.
func (m *Manager) TransitionDispatched(correlationID string, incident int64, action string, from, commands int) {
	m.Emit(&Event{
		Type:          EventTransitionDispatched,
		Target:        Target{Incident: incident, Level: from},
		CorrelationID: correlationID,
		Details: map[string]interface{}{
			"action":   action,
			"commands": commands,
		},
	})
}

// TransitionRejected records a transition refused before anything was sent.
func (m *Manager) TransitionRejected(incident int64, action, code, reason string) {
	m.Emit(&Event{
		Type:   EventTransitionRejected,
		Target: Target{Incident: incident},
		Details: map[string]interface{}{
			"action": action,
			"code":   code,
			"reason": reason,
		},
	})
}

// TransitionPartial records a transition of which only the first sent commands
// reached the service.
func (m *Manager) TransitionPartial(correlationID string, incident int64, action string, from, sent, total int) {
	m.Emit(&Event{
		Type:          EventTransitionPartial,
		Target:        Target{Incident: incident, Level: from},
		CorrelationID: correlationID,
		Details: map[string]interface{}{
			"action": action,
			"sent":   sent,
			"total":  total,
		},
	})
}

// TransitionConfirmed records that a pushed state showed the outcome of a transition.
func (m *Manager) TransitionConfirmed(correlationID string, incident int64, action string, latency time.Duration) {
	m.Emit(&Event{
		Type:          EventTransitionConfirmed,
		Target:        Target{Incident: incident},
		CorrelationID: correlationID,
		Details: map[string]interface{}{
			"action":    action,
			"latencyMs": latency.Milliseconds(),
		},
	})
}

// StateRegressed records a snapshot that moved an incident backwards.
func (m *Manager) StateRegressed(incident int64, kind, previous, current string) {
	m.Emit(&Event{
		Type:   EventStateRegressed,
		Target: Target{Incident: incident},
		Details: map[string]interface{}{
			"kind":     kind,
			"previous": previous,
			"current":  current,
		},
	})
}

// ConnectionChanged records the escalation service connection going up or down.
func (m *Manager) ConnectionChanged(server string, connected bool) {
	typ := EventConnectionLost
	if connected {
		typ = EventConnectionOpened
	}
	m.Emit(&Event{Type: typ, Target: Target{Server: server}})
}
