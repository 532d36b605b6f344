package policy

import "fmt"

// Code identifies why a transition was rejected.
type Code string

const (
	CodeFinalized          Code = "finalized"
	CodeAnnotationTooShort Code = "annotation_too_short"
	CodeAnnotationTooLong  Code = "annotation_too_long"
	CodeEmptyAnnotation    Code = "empty_annotation"
	CodeAlreadyRunning     Code = "already_running"
	CodeNotRunning         Code = "not_running"
	CodeSkippedLevel       Code = "skipped_level"
	CodeInvalidLevel       Code = "invalid_level"
	CodeNoPreviousLevel    Code = "no_previous_level"
	CodeLevelClosed        Code = "level_closed"
	CodeLevelNotStarted    Code = "level_not_started"
	CodeEmptyOperator      Code = "empty_operator"
	CodeUnknownAction      Code = "unknown_action"
)

// Violation is returned for transitions that break an escalation rule. No
// command is sent for a rejected transition.
type Violation struct {
	Code     Code
	Incident int64
	Action   Action
	Message  string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s rejected for incident %d (%s): %s", v.Action, v.Incident, v.Code, v.Message)
}

func reject(req Request, code Code, format string, args ...any) *Violation {
	return &Violation{Code: code, Incident: req.Incident, Action: req.Action, Message: fmt.Sprintf(format, args...)}
}
