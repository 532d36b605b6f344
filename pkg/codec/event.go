// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/telekom/escalation-sync/pkg/incident"
)

// EventTypeTimerUpdate is the only inbound message type the client understands.
const EventTypeTimerUpdate = "timer_update"

var (
	// ErrIgnored marks inbound messages that are not state events at all
	// (wrong type, missing or non-numeric incident id). They are dropped silently.
	ErrIgnored = errors.New("not a timer_update event")
	// ErrMalformed marks state events whose content violates the data model.
	ErrMalformed = errors.New("malformed timer_update event")
)

// finalStatusAliases maps every spelling the service has used for the terminal
// status onto the canonical value.
var finalStatusAliases = map[string]incident.FinalStatus{
	"":           incident.FinalOpen,
	"finalized":  incident.FinalFinalized,
	"finalizado": incident.FinalFinalized,
	"finished":   incident.FinalFinalized,
}

// Decode turns one inbound message into an incident state. Errors wrap either
// ErrIgnored or ErrMalformed.
//
// A finalized event that still reports a running level has that level frozen to
// finished, so the store never holds a finalized incident with a live timer.
func Decode(data []byte) (incident.State, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return incident.State{}, fmt.Errorf("%w: %v", ErrIgnored, err)
	}

	var typ string
	if err := unmarshalField(raw, "type", &typ); err != nil || typ != EventTypeTimerUpdate {
		return incident.State{}, ErrIgnored
	}
	id, ok := integerField(raw, "chamado")
	if !ok || id <= 0 {
		return incident.State{}, fmt.Errorf("%w: missing or non-numeric chamado", ErrIgnored)
	}

	st := incident.NewState(id)
	for i := range st.Levels {
		n := i + 1
		prefix := "level" + strconv.Itoa(n)

		var status string
		if err := unmarshalField(raw, prefix+"_status", &status); err != nil {
			return incident.State{}, fmt.Errorf("%w: chamado %d: %s_status: %v", ErrMalformed, id, prefix, err)
		}
		if status != "" {
			st.Levels[i].Status = incident.LevelStatus(status)
			if !st.Levels[i].Status.Valid() {
				return incident.State{}, fmt.Errorf("%w: chamado %d: unknown %s_status %q", ErrMalformed, id, prefix, status)
			}
		}

		if msg, present := raw[prefix+"_remaining"]; present && string(msg) != "null" {
			rem, ok := integerField(raw, prefix+"_remaining")
			if !ok {
				return incident.State{}, fmt.Errorf("%w: chamado %d: non-numeric %s_remaining", ErrMalformed, id, prefix)
			}
			st.Levels[i].Remaining = max(rem, 0)
		}

		if err := unmarshalField(raw, prefix+"_observacao", &st.Levels[i].Annotation); err != nil {
			return incident.State{}, fmt.Errorf("%w: chamado %d: %s_observacao: %v", ErrMalformed, id, prefix, err)
		}
	}

	if err := unmarshalField(raw, "operador", &st.Operator); err != nil {
		return incident.State{}, fmt.Errorf("%w: chamado %d: operador: %v", ErrMalformed, id, err)
	}

	var final string
	if err := unmarshalField(raw, "statusFinal", &final); err != nil {
		return incident.State{}, fmt.Errorf("%w: chamado %d: statusFinal: %v", ErrMalformed, id, err)
	}
	fs, known := finalStatusAliases[final]
	if !known {
		return incident.State{}, fmt.Errorf("%w: chamado %d: unknown statusFinal %q", ErrMalformed, id, final)
	}
	st.FinalStatus = fs

	if st.IsFinalized() {
		for i := range st.Levels {
			if st.Levels[i].Status == incident.StatusRunning {
				st.Levels[i].Status = incident.StatusFinished
			}
		}
	}

	if err := st.Validate(); err != nil {
		return incident.State{}, fmt.Errorf("%w: chamado %d: %v", ErrMalformed, id, err)
	}
	return st, nil
}

// unmarshalField decodes raw[key] into v. Absent keys and JSON null leave v untouched.
func unmarshalField(raw map[string]json.RawMessage, key string, v any) error {
	msg, ok := raw[key]
	if !ok || string(msg) == "null" {
		return nil
	}
	return json.Unmarshal(msg, v)
}

// integerField reads raw[key] as a JSON number with an integral value.
func integerField(raw map[string]json.RawMessage, key string) (int64, bool) {
	msg, ok := raw[key]
	if !ok {
		return 0, false
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	// quoted numbers are strings, not numbers
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if n, err := num.Int64(); err == nil {
		return n, true
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// EncodeEvent serializes a state into the inbound wire form. It is the inverse of
// Decode and is used by test doubles of the escalation service.
func EncodeEvent(st incident.State) ([]byte, error) {
	m := map[string]any{
		"type":    EventTypeTimerUpdate,
		"chamado": st.ID,
	}
	for i, l := range st.Levels {
		prefix := "level" + strconv.Itoa(i+1)
		m[prefix+"_status"] = string(l.Status)
		m[prefix+"_remaining"] = l.Remaining
		m[prefix+"_observacao"] = l.Annotation
	}
	if st.Operator != "" {
		m["operador"] = st.Operator
	}
	if st.FinalStatus != incident.FinalOpen {
		m["statusFinal"] = string(st.FinalStatus)
	}
	return json.Marshal(m)
}
