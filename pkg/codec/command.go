// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/telekom/escalation-sync/pkg/incident"
)

// Action is the discriminator of an outbound command.
type Action string

const (
	ActionStartTimer       Action = "start_timer"
	ActionUpdateAnnotation Action = "update_observacao"
	ActionUpdateOperator   Action = "update_operador"
	ActionFinalize         Action = "finalize"
	ActionGetState         Action = "get_state"
)

// Command is one outbound message. Only the fields relevant to Action are encoded.
type Command struct {
	Action     Action `json:"action"`
	Incident   int64  `json:"chamado"`
	Level      int    `json:"level,omitempty"`
	Duration   int64  `json:"duration,omitempty"`
	Annotation string `json:"observacao,omitempty"`
	Operator   string `json:"operador,omitempty"`
	Status     string `json:"status,omitempty"`
}

// StartTimer starts the window of level with the given duration in seconds.
func StartTimer(id int64, level int, duration int64) Command {
	return Command{Action: ActionStartTimer, Incident: id, Level: level, Duration: duration}
}

// UpdateAnnotation attaches or replaces the annotation of level.
func UpdateAnnotation(id int64, level int, text string) Command {
	return Command{Action: ActionUpdateAnnotation, Incident: id, Level: level, Annotation: text}
}

// UpdateOperator sets the operator responsible for the incident.
func UpdateOperator(id int64, name string) Command {
	return Command{Action: ActionUpdateOperator, Incident: id, Operator: name}
}

// Finalize closes the incident with a terminal status.
func Finalize(id int64, status incident.FinalStatus) Command {
	return Command{Action: ActionFinalize, Incident: id, Status: string(status)}
}

// GetState asks the service to push the full state of the incident.
func GetState(id int64) Command {
	return Command{Action: ActionGetState, Incident: id}
}

// String renders the command for logs.
func (c Command) String() string {
	switch c.Action {
	case ActionStartTimer:
		return fmt.Sprintf("%s(#%d, level=%d, duration=%ds)", c.Action, c.Incident, c.Level, c.Duration)
	case ActionUpdateAnnotation:
		return fmt.Sprintf("%s(#%d, level=%d)", c.Action, c.Incident, c.Level)
	case ActionUpdateOperator:
		return fmt.Sprintf("%s(#%d, operator=%q)", c.Action, c.Incident, c.Operator)
	case ActionFinalize:
		return fmt.Sprintf("%s(#%d, status=%s)", c.Action, c.Incident, c.Status)
	default:
		return fmt.Sprintf("%s(#%d)", c.Action, c.Incident)
	}
}

// Validate checks the action-specific fields of the command.
func (c Command) Validate() error {
	if c.Incident <= 0 {
		return fmt.Errorf("%s: incident id must be positive, got %d", c.Action, c.Incident)
	}
	switch c.Action {
	case ActionStartTimer:
		if !incident.ValidLevel(c.Level) {
			return fmt.Errorf("%s: level %d out of range", c.Action, c.Level)
		}
		if c.Duration <= 0 {
			return fmt.Errorf("%s: duration must be positive, got %d", c.Action, c.Duration)
		}
	case ActionUpdateAnnotation:
		if !incident.ValidLevel(c.Level) {
			return fmt.Errorf("%s: level %d out of range", c.Action, c.Level)
		}
		if strings.TrimSpace(c.Annotation) == "" {
			return fmt.Errorf("%s: annotation must not be empty", c.Action)
		}
	case ActionUpdateOperator:
		if strings.TrimSpace(c.Operator) == "" {
			return fmt.Errorf("%s: operator must not be empty", c.Action)
		}
	case ActionFinalize:
		if c.Status == "" {
			return fmt.Errorf("%s: status must not be empty", c.Action)
		}
	case ActionGetState:
	default:
		return fmt.Errorf("unknown action %q", c.Action)
	}
	return nil
}

// Encode validates and serializes a command into its wire form.
func Encode(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Action, err)
	}
	return data, nil
}
