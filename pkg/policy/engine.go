package policy

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/telekom/escalation-sync/pkg/codec"
	"github.com/telekom/escalation-sync/pkg/incident"
)

// DefaultMinAnnotationLength is the minimum annotation length, in characters
// after trimming, required to move an incident off its current level.
const DefaultMinAnnotationLength = 10

// DefaultMaxAnnotationLength caps every annotation, in characters after trimming.
const DefaultMaxAnnotationLength = 1000

// Action is a user-initiated transition.
type Action string

const (
	ActionStart       Action = "start"
	ActionAdvance     Action = "advance"
	ActionRollback    Action = "rollback"
	ActionResolve     Action = "resolve"
	ActionAnnotate    Action = "annotate"
	ActionSetOperator Action = "set_operator"
)

// Request describes one transition attempt.
type Request struct {
	Action   Action
	Incident int64
	// Annotation is the note required by advance, rollback and resolve, and the
	// text written by annotate.
	Annotation string
	// Level is the level to annotate, or an explicit target level for advance and
	// rollback. Zero means the implicit level.
	Level    int
	Operator string
}

// Expectation is the server-side outcome a dispatched transition aims for.
type Expectation struct {
	RunningLevel int
	Finalized    bool
	// AnnotationLevel and Annotation are set for annotate requests.
	AnnotationLevel int
	Annotation      string
	Operator        string
}

// Satisfied reports whether st shows the expected outcome.
func (e Expectation) Satisfied(st incident.State) bool {
	switch {
	case e.Finalized:
		return st.IsFinalized()
	case e.RunningLevel > 0:
		return st.RunningLevel() == e.RunningLevel && !st.IsFinalized()
	case e.AnnotationLevel > 0:
		return st.Level(e.AnnotationLevel).Annotation == e.Annotation
	case e.Operator != "":
		return st.Operator == e.Operator
	}
	return false
}

// Decision is the result of an allowed transition.
type Decision struct {
	Request Request
	// From is the level running when the request was evaluated, 0 if none.
	From     int
	Expect   Expectation
	Commands []codec.Command
}

// Engine applies the escalation ladder rules. The zero value is not usable; use NewEngine.
type Engine struct {
	LevelDuration       time.Duration
	MinAnnotationLength int
	// MaxAnnotationLength of zero or less means DefaultMaxAnnotationLength.
	MaxAnnotationLength int
}

// NewEngine returns an engine with the standard 20 minute window and 10 character
// annotation minimum.
func NewEngine() *Engine {
	return &Engine{
		LevelDuration:       incident.DefaultLevelDuration,
		MinAnnotationLength: DefaultMinAnnotationLength,
		MaxAnnotationLength: DefaultMaxAnnotationLength,
	}
}

// Evaluate checks req against the last known state of the incident. Rejections are
// returned as *Violation and carry no commands. Evaluate does no I/O.
func (e *Engine) Evaluate(req Request, st incident.State) (Decision, error) {
	if st.IsFinalized() {
		return Decision{}, reject(req, CodeFinalized, "incident is finalized")
	}

	running := st.RunningLevel()
	d := Decision{Request: req, From: running}
	id := req.Incident

	switch req.Action {
	case ActionStart:
		if running != 0 {
			return Decision{}, reject(req, CodeAlreadyRunning, "level %d is already running", running)
		}
		d.Commands = []codec.Command{codec.StartTimer(id, 1, e.durationSeconds())}
		d.Expect = Expectation{RunningLevel: 1}

	case ActionAdvance:
		note, err := e.requireRunningWithNote(req, running)
		if err != nil {
			return Decision{}, err
		}
		if running == incident.LevelCount {
			if req.Level != 0 {
				return Decision{}, reject(req, CodeInvalidLevel, "level %d is the last level", running)
			}
			d.Commands = []codec.Command{
				codec.UpdateAnnotation(id, running, note),
				codec.Finalize(id, incident.FinalFinalized),
			}
			d.Expect = Expectation{Finalized: true}
			break
		}
		next := running + 1
		if err := checkTarget(req, next); err != nil {
			return Decision{}, err
		}
		d.Commands = []codec.Command{
			codec.UpdateAnnotation(id, running, note),
			codec.StartTimer(id, next, e.durationSeconds()),
		}
		d.Expect = Expectation{RunningLevel: next}

	case ActionRollback:
		note, err := e.requireRunningWithNote(req, running)
		if err != nil {
			return Decision{}, err
		}
		if running == 1 {
			return Decision{}, reject(req, CodeNoPreviousLevel, "level 1 has no previous level")
		}
		prev := running - 1
		if err := checkTarget(req, prev); err != nil {
			return Decision{}, err
		}
		d.Commands = []codec.Command{
			codec.UpdateAnnotation(id, running, note),
			codec.StartTimer(id, prev, e.durationSeconds()),
		}
		d.Expect = Expectation{RunningLevel: prev}

	case ActionResolve:
		note, err := e.requireRunningWithNote(req, running)
		if err != nil {
			return Decision{}, err
		}
		d.Commands = []codec.Command{
			codec.UpdateAnnotation(id, running, note),
			codec.Finalize(id, incident.FinalFinalized),
		}
		d.Expect = Expectation{Finalized: true}

	case ActionAnnotate:
		level := req.Level
		if level == 0 {
			level = running
		}
		if !incident.ValidLevel(level) {
			return Decision{}, reject(req, CodeInvalidLevel, "level %d is not on the ladder", req.Level)
		}
		if st.Level(level).Status == incident.StatusFinished {
			return Decision{}, reject(req, CodeLevelClosed, "level %d is finished", level)
		}
		if level > running {
			return Decision{}, reject(req, CodeLevelNotStarted, "level %d has not been reached", level)
		}
		note := strings.TrimSpace(req.Annotation)
		if note == "" {
			return Decision{}, reject(req, CodeEmptyAnnotation, "annotation must not be empty")
		}
		if err := e.checkMaxLength(req, note); err != nil {
			return Decision{}, err
		}
		d.Commands = []codec.Command{codec.UpdateAnnotation(id, level, note)}
		d.Expect = Expectation{AnnotationLevel: level, Annotation: note}

	case ActionSetOperator:
		name := strings.TrimSpace(req.Operator)
		if name == "" {
			return Decision{}, reject(req, CodeEmptyOperator, "operator must not be empty")
		}
		d.Commands = []codec.Command{codec.UpdateOperator(id, name)}
		d.Expect = Expectation{Operator: name}

	default:
		return Decision{}, reject(req, CodeUnknownAction, "unknown action %q", req.Action)
	}
	return d, nil
}

func (e *Engine) durationSeconds() int64 {
	return int64(e.LevelDuration / time.Second)
}

// requireRunningWithNote checks the preconditions shared by advance, rollback and
// resolve and returns the trimmed annotation.
func (e *Engine) requireRunningWithNote(req Request, running int) (string, error) {
	if running == 0 {
		return "", reject(req, CodeNotRunning, "no level is running")
	}
	note := strings.TrimSpace(req.Annotation)
	if n := utf8.RuneCountInString(note); n < e.MinAnnotationLength {
		return "", reject(req, CodeAnnotationTooShort,
			"annotation has %d characters, at least %d required", n, e.MinAnnotationLength)
	}
	if err := e.checkMaxLength(req, note); err != nil {
		return "", err
	}
	return note, nil
}

func (e *Engine) checkMaxLength(req Request, note string) error {
	limit := e.MaxAnnotationLength
	if limit <= 0 {
		limit = DefaultMaxAnnotationLength
	}
	if n := utf8.RuneCountInString(note); n > limit {
		return reject(req, CodeAnnotationTooLong, "annotation has %d characters, at most %d allowed", n, limit)
	}
	return nil
}

func checkTarget(req Request, want int) error {
	switch {
	case req.Level == 0 || req.Level == want:
		return nil
	case !incident.ValidLevel(req.Level):
		return reject(req, CodeInvalidLevel, "level %d is not on the ladder", req.Level)
	default:
		return reject(req, CodeSkippedLevel, "level %d is not adjacent, next is %d", req.Level, want)
	}
}
