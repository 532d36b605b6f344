// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/escalation-sync/pkg/audit"
	"github.com/telekom/escalation-sync/pkg/codec"
	"github.com/telekom/escalation-sync/pkg/countdown"
	"github.com/telekom/escalation-sync/pkg/incident"
	"github.com/telekom/escalation-sync/pkg/metrics"
	"github.com/telekom/escalation-sync/pkg/policy"
	"github.com/telekom/escalation-sync/pkg/system"
	"github.com/telekom/escalation-sync/pkg/transport"
	"github.com/telekom/escalation-sync/pkg/watch"
)

// Session is the transport the tracker drives. *transport.Session implements it.
type Session interface {
	watch.Sender
	URL() string
	Connected() bool
	Connect(ctx context.Context) error
	Close() error
	OnEvent(h transport.EventHandler)
	OnConnectionChange(h transport.ConnectionHandler)
}

// Outcome describes what a transition did.
type Outcome struct {
	// Pending is the marker id, empty when nothing was sent.
	Pending  string
	Action   policy.Action
	Incident int64
	From     int
	Expect   policy.Expectation
	Commands []codec.Command
	Sent     int
	// Reason is a human readable summary, or the rejection message.
	Reason string
}

// Tracker keeps the local view of incidents in sync with the escalation service
// and turns user actions into command sequences.
type Tracker struct {
	session   Session
	store     *incident.Store
	engine    *policy.Engine
	registry  *watch.Registry
	projector *countdown.Projector
	audit     *audit.Manager
	log       *zap.SugaredLogger
	storeLog  *zap.SugaredLogger
	storeOpts []incident.StoreOption

	resyncAfter       time.Duration
	resyncOnReconnect bool
	now               func() time.Time

	mu      sync.Mutex
	pending map[string]*Pending
	drafts  map[int64]*Draft
	timers  map[*time.Timer]struct{}
	applied chan struct{}
	started bool
	closed  bool
	// dropped is set once the connection was lost; only later connects are reconnects
	dropped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a tracker on top of session. It does not connect; call Connect.
func New(session Session, opts ...Option) *Tracker {
	t := &Tracker{
		session:     session,
		engine:      policy.NewEngine(),
		log:         zap.NewNop().Sugar(),
		storeLog:    zap.NewNop().Sugar(),
		resyncAfter: DefaultResyncAfter,
		now:         time.Now,
		pending:     make(map[string]*Pending),
		drafts:      make(map[int64]*Draft),
		timers:      make(map[*time.Timer]struct{}),
		applied:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	storeOpts := append([]incident.StoreOption{
		incident.WithClock(t.now),
		incident.WithExpected(t.rollbackPending),
	}, t.storeOpts...)
	t.store = incident.NewStore(t.storeLog, storeOpts...)
	t.registry = watch.NewRegistry(session, t.storeLog)
	t.projector = countdown.NewProjector(t.store).WithClock(t.now)
	t.store.OnApply(t.onApply)
	return t
}

// Connect runs the store writer and connects the session in the background. It
// returns once both are started. Cancelling ctx stops the tracker.
func (t *Tracker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	t.started = true
	t.cancel = cancel
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	t.session.OnEvent(func(st incident.State) {
		if err := t.store.Submit(ctx, st); err != nil {
			t.log.Debugw("Discarding state, tracker stopping", system.IncidentFields(st.ID, 0)...)
		}
	})
	t.session.OnConnectionChange(t.onConnectionChange)

	go func() {
		defer close(done)
		if err := t.store.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.log.Errorw("Incident store stopped", "error", err)
		}
	}()

	if err := t.session.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	t.log.Infow("Tracker started", "server", t.session.URL())
	return nil
}

// Close stops reconnecting, cancels follow-ups and stops the store writer.
// Commands not yet written are dropped.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for timer := range t.timers {
		timer.Stop()
	}
	clear(t.timers)
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	err := t.session.Close()
	if cancel != nil {
		cancel()
		<-done
	}
	return err
}

// Connected reports whether the session is currently connected.
func (t *Tracker) Connected() bool {
	return t.session.Connected()
}

// Server returns the escalation service URL.
func (t *Tracker) Server() string {
	return t.session.URL()
}

// States returns every known incident, ordered by id.
func (t *Tracker) States() []incident.State {
	return t.store.Snapshot()
}

// State returns the last known state of id; ok is false if none was received.
func (t *Tracker) State(id int64) (incident.State, bool) {
	return t.store.Get(id)
}

// Watch replaces the watch set and requests the state of every incident in it.
func (t *Tracker) Watch(ids []int64) int {
	return t.registry.Replace(ids)
}

// Watched returns the current watch set.
func (t *Tracker) Watched() []int64 {
	return t.registry.IDs()
}

// Resync requests the state of every watched incident again, plus incidents with
// partially sent transitions. It returns how many requests were sent.
func (t *Tracker) Resync() int {
	sent := t.registry.Resync()
	for _, id := range t.partialIncidents() {
		if t.registry.Contains(id) {
			continue
		}
		if t.session.Send(codec.GetState(id)) {
			sent++
		}
	}
	return sent
}

func (t *Tracker) partialIncidents() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []int64
	for _, p := range t.pending {
		if p.Partial() {
			ids = append(ids, p.Incident)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Await blocks until the state of id satisfies cond or ctx ends.
func (t *Tracker) Await(ctx context.Context, id int64, cond func(incident.State) bool) (incident.State, error) {
	for {
		t.mu.Lock()
		ch := t.applied
		t.mu.Unlock()

		if st, ok := t.store.Get(id); ok && cond(st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return incident.State{}, ctx.Err()
		}
	}
}

// Start begins level 1 of an idle incident.
func (t *Tracker) Start(id int64) (Outcome, error) {
	return t.Do(policy.Request{Action: policy.ActionStart, Incident: id})
}

// Advance closes the running level with note and starts the next one, or
// finalizes the incident from level 5. to optionally names the target level.
func (t *Tracker) Advance(id int64, note string, to int) (Outcome, error) {
	return t.Do(policy.Request{Action: policy.ActionAdvance, Incident: id, Annotation: note, Level: to})
}

// Rollback closes the running level with note and restarts the previous one.
func (t *Tracker) Rollback(id int64, note string, to int) (Outcome, error) {
	return t.Do(policy.Request{Action: policy.ActionRollback, Incident: id, Annotation: note, Level: to})
}

// Resolve closes the running level with note and finalizes the incident.
func (t *Tracker) Resolve(id int64, note string) (Outcome, error) {
	return t.Do(policy.Request{Action: policy.ActionResolve, Incident: id, Annotation: note})
}

// Annotate replaces the annotation of level, 0 meaning the running level.
func (t *Tracker) Annotate(id int64, level int, note string) (Outcome, error) {
	return t.Do(policy.Request{Action: policy.ActionAnnotate, Incident: id, Level: level, Annotation: note})
}

// SetOperator sets the operator responsible for the incident.
func (t *Tracker) SetOperator(id int64, name string) (Outcome, error) {
	return t.Do(policy.Request{Action: policy.ActionSetOperator, Incident: id, Operator: name})
}

// Do evaluates req against the last known state and sends the resulting commands
// in order. Rejections return a *policy.Violation and send nothing. If the session
// is down before the first command the result is ErrNotConnected; if it goes down
// midway the result is a *PartialDispatchError.
func (t *Tracker) Do(req policy.Request) (Outcome, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return Outcome{Action: req.Action, Incident: req.Incident}, ErrClosed
	}

	st, _ := t.store.Get(req.Incident)
	dec, err := t.engine.Evaluate(req, st)
	if err != nil {
		return t.rejected(req, err)
	}
	out := Outcome{
		Action:   req.Action,
		Incident: req.Incident,
		From:     dec.From,
		Expect:   dec.Expect,
		Commands: dec.Commands,
	}
	t.keepDraft(dec)

	if !t.session.Connected() {
		out.Reason = ErrNotConnected.Error()
		t.log.Infow("Transition not sent, disconnected",
			append(system.IncidentFields(req.Incident, dec.From), "action", req.Action)...)
		return out, ErrNotConnected
	}

	p := &Pending{
		ID:        uuid.NewString(),
		Action:    req.Action,
		Incident:  req.Incident,
		From:      dec.From,
		Commands:  dec.Commands,
		Expect:    dec.Expect,
		CreatedAt: t.now(),
	}
	// registered before sending so a fast reply can already clear it
	t.mu.Lock()
	t.pending[p.ID] = p
	t.mu.Unlock()

	sent := 0
	for _, cmd := range dec.Commands {
		if !t.session.Send(cmd) {
			break
		}
		sent++
	}
	t.mu.Lock()
	p.Sent = sent
	t.mu.Unlock()
	out.Sent = sent
	action := string(req.Action)
	fields := append(system.IncidentFields(req.Incident, dec.From), "action", action, "pending", p.ID)

	switch {
	case sent == 0:
		t.dropPending(p.ID)
		out.Reason = ErrNotConnected.Error()
		t.log.Infow("Transition not sent, disconnected", fields...)
		return out, ErrNotConnected

	case sent < len(dec.Commands):
		out.Pending = p.ID
		perr := &PartialDispatchError{
			Pending:  p.ID,
			Incident: req.Incident,
			Action:   req.Action,
			Sent:     sent,
			Total:    len(dec.Commands),
		}
		out.Reason = perr.Error()
		metrics.TransitionsPartial.WithLabelValues(action).Inc()
		if t.audit != nil {
			t.audit.TransitionPartial(p.ID, req.Incident, action, dec.From, sent, len(dec.Commands))
		}
		t.log.Warnw("Transition partially sent", append(fields, "sent", sent, "total", len(dec.Commands))...)
		return out, perr
	}

	out.Pending = p.ID
	out.Reason = describe(req, dec)
	metrics.TransitionsDispatched.WithLabelValues(action).Inc()
	if t.audit != nil {
		t.audit.TransitionDispatched(p.ID, req.Incident, action, dec.From, sent)
	}
	t.log.Infow("Transition sent", append(fields, "commands", sent)...)
	t.scheduleFollowUp(p.ID, req.Incident)
	return out, nil
}

func (t *Tracker) rejected(req policy.Request, err error) (Outcome, error) {
	out := Outcome{Action: req.Action, Incident: req.Incident, Reason: err.Error()}
	code := "unknown"
	var v *policy.Violation
	if errors.As(err, &v) {
		code = string(v.Code)
	}
	metrics.TransitionsRejected.WithLabelValues(string(req.Action), code).Inc()
	if t.audit != nil {
		t.audit.TransitionRejected(req.Incident, string(req.Action), code, err.Error())
	}
	t.log.Infow("Transition rejected",
		append(system.IncidentFields(req.Incident, 0), "action", req.Action, "code", code, "reason", err.Error())...)
	return out, err
}

func describe(req policy.Request, dec policy.Decision) string {
	id := req.Incident
	switch req.Action {
	case policy.ActionStart:
		return fmt.Sprintf("incident %d: level 1 started", id)
	case policy.ActionAdvance:
		if dec.Expect.Finalized {
			return fmt.Sprintf("incident %d: level %d closed, incident finalized", id, dec.From)
		}
		return fmt.Sprintf("incident %d: advanced from level %d to level %d", id, dec.From, dec.Expect.RunningLevel)
	case policy.ActionRollback:
		return fmt.Sprintf("incident %d: rolled back from level %d to level %d", id, dec.From, dec.Expect.RunningLevel)
	case policy.ActionResolve:
		return fmt.Sprintf("incident %d: resolved at level %d", id, dec.From)
	case policy.ActionAnnotate:
		return fmt.Sprintf("incident %d: annotation of level %d sent", id, dec.Expect.AnnotationLevel)
	case policy.ActionSetOperator:
		return fmt.Sprintf("incident %d: operator set to %q", id, dec.Expect.Operator)
	}
	return fmt.Sprintf("incident %d: %s sent", id, req.Action)
}

// scheduleFollowUp asks for the incident's state once more if the transition is
// still unconfirmed after the resync delay.
func (t *Tracker) scheduleFollowUp(pendingID string, id int64) {
	if t.resyncAfter <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.resyncAfter, func() {
		t.mu.Lock()
		delete(t.timers, timer)
		_, still := t.pending[pendingID]
		closed := t.closed
		t.mu.Unlock()
		if still && !closed {
			t.log.Debugw("Transition unconfirmed, requesting state", "incident", id, "pending", pendingID)
			t.session.Send(codec.GetState(id))
		}
	})
	t.timers[timer] = struct{}{}
}

func (t *Tracker) dropPending(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// PendingTransitions returns every unconfirmed transition, oldest first.
func (t *Tracker) PendingTransitions() []Pending {
	return t.listPending(func(*Pending) bool { return true })
}

// PartialTransitions returns unconfirmed transitions that were cut short by a
// connection loss, oldest first.
func (t *Tracker) PartialTransitions() []Pending {
	return t.listPending(func(p *Pending) bool { return p.Partial() })
}

func (t *Tracker) listPending(keep func(*Pending) bool) []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Pending, 0, len(t.pending))
	for _, p := range t.pending {
		if keep(p) {
			out = append(out, p.clone())
		}
	}
	slices.SortFunc(out, func(a, b Pending) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Draft returns unacknowledged annotation and operator edits for id.
func (t *Tracker) Draft(id int64) (Draft, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.drafts[id]
	if !ok {
		return Draft{}, false
	}
	return d.clone(), true
}

func (t *Tracker) keepDraft(dec policy.Decision) {
	e := dec.Expect
	if e.AnnotationLevel == 0 && e.Operator == "" {
		return
	}
	id := dec.Request.Incident
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.drafts[id]
	if !ok {
		d = &Draft{Annotations: make(map[int]string)}
		t.drafts[id] = d
	}
	if e.AnnotationLevel > 0 {
		d.Annotations[e.AnnotationLevel] = e.Annotation
	}
	if e.Operator != "" {
		d.Operator = e.Operator
	}
}

// rollbackPending reports whether a dispatched rollback of id to level is awaiting
// confirmation.
func (t *Tracker) rollbackPending(id int64, level int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pending {
		if p.Incident == id && p.Action == policy.ActionRollback && p.Expect.RunningLevel == level {
			return true
		}
	}
	return false
}

// onApply runs on the store writer for every applied snapshot.
func (t *Tracker) onApply(u incident.Update) {
	st := u.Current
	if u.Regression != "" && t.audit != nil {
		t.audit.StateRegressed(st.ID, u.Regression, u.Previous.Phase(), st.Phase())
	}

	type confirmed struct {
		p       Pending
		latency time.Duration
	}
	var done []confirmed

	t.mu.Lock()
	for key, p := range t.pending {
		if p.Incident != st.ID {
			continue
		}
		switch {
		case p.Expect.Satisfied(st):
			done = append(done, confirmed{p: p.clone(), latency: t.now().Sub(p.CreatedAt)})
			delete(t.pending, key)
		case st.IsFinalized():
			// no later state can satisfy it
			t.log.Warnw("Dropping unconfirmed transition, incident finalized",
				"incident", st.ID, "action", p.Action, "pending", p.ID)
			delete(t.pending, key)
		}
	}
	if d, ok := t.drafts[st.ID]; ok {
		for level, text := range d.Annotations {
			if st.Level(level).Annotation == text || st.IsFinalized() {
				delete(d.Annotations, level)
			}
		}
		if d.Operator != "" && st.Operator == d.Operator {
			d.Operator = ""
		}
		if d.empty() {
			delete(t.drafts, st.ID)
		}
	}
	close(t.applied)
	t.applied = make(chan struct{})
	t.mu.Unlock()

	for _, c := range done {
		metrics.TransitionsConfirmed.WithLabelValues(string(c.p.Action)).Inc()
		if t.audit != nil {
			t.audit.TransitionConfirmed(c.p.ID, c.p.Incident, string(c.p.Action), c.latency)
		}
		t.log.Debugw("Transition confirmed", "incident", c.p.Incident, "action", c.p.Action,
			"pending", c.p.ID, "latency", c.latency)
	}
}

func (t *Tracker) onConnectionChange(connected bool) {
	if t.audit != nil {
		t.audit.ConnectionChanged(t.session.URL(), connected)
	}
	t.mu.Lock()
	reconnect := connected && t.dropped
	if !connected {
		t.dropped = true
	}
	t.mu.Unlock()
	if reconnect && t.resyncOnReconnect {
		n := t.Resync()
		t.log.Infow("Connection established, watch set re-applied", "requests", n)
	}
}

// Remaining returns the snapshot remaining seconds of level (0 = running level),
// or 0 if that level is not running.
func (t *Tracker) Remaining(id int64, level int) int64 {
	return t.projector.Remaining(id, level)
}

// Live returns Remaining minus the whole seconds elapsed since the snapshot arrived.
func (t *Tracker) Live(id int64, level int) int64 {
	return t.projector.Live(id, level)
}

// LiveOf is Live for a state the caller already holds.
func (t *Tracker) LiveOf(st incident.State, level int) int64 {
	return t.projector.LiveOf(st, level)
}

// IsActive reports whether level is the running level of id.
func (t *Tracker) IsActive(id int64, level int) bool {
	return t.projector.IsActive(id, level)
}

// Progress returns the share of finished levels, 1 once finalized.
func (t *Tracker) Progress(id int64) float64 {
	return t.projector.Progress(id)
}

// Countdown formats the live remaining time of level as MM:SS.
func (t *Tracker) Countdown(id int64, level int) string {
	return countdown.FormatTime(t.Live(id, level))
}
