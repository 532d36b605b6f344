// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/escalation-sync/pkg/incident"
)

func TestEncodeWireShapes(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "start timer",
			cmd:  StartTimer(123456, 2, 1200),
			want: `{"action":"start_timer","chamado":123456,"level":2,"duration":1200}`,
		},
		{
			name: "update annotation",
			cmd:  UpdateAnnotation(123456, 1, "escalating now"),
			want: `{"action":"update_observacao","chamado":123456,"level":1,"observacao":"escalating now"}`,
		},
		{
			name: "update operator",
			cmd:  UpdateOperator(7, "maria"),
			want: `{"action":"update_operador","chamado":7,"operador":"maria"}`,
		},
		{
			name: "finalize",
			cmd:  Finalize(7, incident.FinalFinalized),
			want: `{"action":"finalize","chamado":7,"status":"finalized"}`,
		},
		{
			name: "get state",
			cmd:  GetState(7),
			want: `{"action":"get_state","chamado":7}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.cmd)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestEncodeRejectsInvalidCommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		msg  string
	}{
		{"zero incident", GetState(0), "must be positive"},
		{"level too high", StartTimer(1, 6, 1200), "out of range"},
		{"no duration", StartTimer(1, 1, 0), "duration"},
		{"annotation level zero", UpdateAnnotation(1, 0, "text"), "out of range"},
		{"blank annotation", UpdateAnnotation(1, 1, "   "), "annotation"},
		{"blank operator", UpdateOperator(1, " "), "operator"},
		{"finalize without status", Finalize(1, incident.FinalOpen), "status"},
		{"unknown action", Command{Action: "pause", Incident: 1}, "unknown action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "start_timer(#5, level=2, duration=1200s)", StartTimer(5, 2, 1200).String())
	assert.Equal(t, "get_state(#5)", GetState(5).String())
	assert.Equal(t, "finalize(#5, status=finalized)", Finalize(5, incident.FinalFinalized).String())
}
