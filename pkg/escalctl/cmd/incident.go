package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/escalation-sync/pkg/escalctl/output"
	"github.com/telekom/escalation-sync/pkg/incident"
	"github.com/telekom/escalation-sync/pkg/policy"
	"github.com/telekom/escalation-sync/pkg/tracker"
)

// transitionResult is the machine readable result of a transition command.
type transitionResult struct {
	Incident  int64           `json:"incident" yaml:"incident"`
	Action    policy.Action   `json:"action" yaml:"action"`
	Pending   string          `json:"pending,omitempty" yaml:"pending,omitempty"`
	Sent      int             `json:"sent" yaml:"sent"`
	Total     int             `json:"total" yaml:"total"`
	Confirmed bool            `json:"confirmed" yaml:"confirmed"`
	Message   string          `json:"message" yaml:"message"`
	State     *incident.State `json:"state,omitempty" yaml:"state,omitempty"`
}

func parseIncidentID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid incident id %q: must be a positive integer", s)
	}
	return id, nil
}

func parseIncidentIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseIncidentID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func NewStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state ID...",
		Short: "Show the current state of incidents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ids, err := parseIncidentIDs(args)
			if err != nil {
				return err
			}
			c, err := rt.newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			if err := c.connect(cmd.Context()); err != nil {
				return err
			}

			if err := c.load(cmd.Context(), ids...); err != nil {
				return err
			}
			rows := make([]output.IncidentRow, 0, len(ids))
			for _, id := range ids {
				rows = append(rows, incidentRow(c.tracker, id))
			}
			return writeRows(rt.Writer(), rt.OutputFormat(), rows, time.Now())
		},
	}
}

func incidentRow(tr *tracker.Tracker, id int64) output.IncidentRow {
	st, ok := tr.State(id)
	if !ok {
		st = incident.NewState(id)
	}
	pending := 0
	for _, p := range tr.PendingTransitions() {
		if p.Incident == id {
			pending++
		}
	}
	return output.IncidentRow{State: st, Live: tr.LiveOf(st, 0), Pending: pending}
}

func writeRows(w io.Writer, format output.Format, rows []output.IncidentRow, now time.Time) error {
	switch format {
	case output.FormatTable:
		if len(rows) == 1 {
			output.WriteIncidentDetail(w, rows[0], now)
			return nil
		}
		output.WriteIncidentTable(w, rows, now)
		return nil
	case output.FormatWide:
		output.WriteIncidentTableWide(w, rows, now)
		return nil
	default:
		return output.WriteObject(w, format, rows)
	}
}

type transitionFunc func(tr *tracker.Tracker, id int64) (tracker.Outcome, error)

// runTransition connects, loads the incident, runs fn and waits for the service to
// confirm the outcome unless noWait is set.
func runTransition(cmd *cobra.Command, rawID string, noWait bool, fn transitionFunc) error {
	rt, err := getRuntime(cmd)
	if err != nil {
		return err
	}
	id, err := parseIncidentID(rawID)
	if err != nil {
		return err
	}
	c, err := rt.newClient()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx := cmd.Context()
	if err := c.connect(ctx); err != nil {
		return err
	}
	if err := c.load(ctx, id); err != nil {
		return err
	}

	out, err := fn(c.tracker, id)
	res := transitionResult{
		Incident: id,
		Action:   out.Action,
		Pending:  out.Pending,
		Sent:     out.Sent,
		Total:    len(out.Commands),
		Message:  out.Reason,
	}
	if err != nil {
		var perr *tracker.PartialDispatchError
		if errors.As(err, &perr) {
			_ = writeResult(rt, res)
		}
		return err
	}

	if !noWait {
		st, err := c.confirm(ctx, out)
		if err != nil {
			return err
		}
		res.Confirmed = true
		res.State = &st
	}
	return writeResult(rt, res)
}

func writeResult(rt *runtimeState, res transitionResult) error {
	w := rt.Writer()
	switch format := rt.OutputFormat(); format {
	case output.FormatTable, output.FormatWide:
		_, _ = fmt.Fprintln(w, res.Message)
		if res.State != nil {
			_, _ = fmt.Fprintln(w)
			output.WriteIncidentDetail(w, output.IncidentRow{State: *res.State, Live: res.State.Level(res.State.RunningLevel()).Remaining}, time.Now())
		} else if res.Pending != "" && !res.Confirmed {
			_, _ = fmt.Fprintf(w, "pending %s (%d/%d commands sent)\n", res.Pending, res.Sent, res.Total)
		}
		return nil
	default:
		return output.WriteObject(w, format, res)
	}
}

func NewStartCommand() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "start ID",
		Short: "Start level 1 of an idle incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, args[0], noWait, func(tr *tracker.Tracker, id int64) (tracker.Outcome, error) {
				return tr.Start(id)
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Do not wait for the service to confirm")
	return cmd
}

func NewAdvanceCommand() *cobra.Command {
	var (
		note   string
		to     int
		noWait bool
	)
	cmd := &cobra.Command{
		Use:   "advance ID",
		Short: "Close the running level and escalate to the next one",
		Long: "Writes the annotation of the running level and starts the next level. " +
			"Advancing from the last level finalizes the incident.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, args[0], noWait, func(tr *tracker.Tracker, id int64) (tracker.Outcome, error) {
				return tr.Advance(id, note, to)
			})
		},
	}
	cmd.Flags().StringVarP(&note, "message", "m", "", "Annotation for the running level")
	cmd.Flags().IntVar(&to, "to", 0, "Expected target level (guards against acting on a stale state)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Do not wait for the service to confirm")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func NewRollbackCommand() *cobra.Command {
	var (
		note   string
		to     int
		noWait bool
	)
	cmd := &cobra.Command{
		Use:   "rollback ID",
		Short: "Return to the previous level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, args[0], noWait, func(tr *tracker.Tracker, id int64) (tracker.Outcome, error) {
				return tr.Rollback(id, note, to)
			})
		},
	}
	cmd.Flags().StringVarP(&note, "message", "m", "", "Annotation for the running level")
	cmd.Flags().IntVar(&to, "to", 0, "Expected target level (guards against acting on a stale state)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Do not wait for the service to confirm")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func NewResolveCommand() *cobra.Command {
	var (
		note   string
		noWait bool
	)
	cmd := &cobra.Command{
		Use:   "resolve ID",
		Short: "Annotate the running level and finalize the incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, args[0], noWait, func(tr *tracker.Tracker, id int64) (tracker.Outcome, error) {
				return tr.Resolve(id, note)
			})
		},
	}
	cmd.Flags().StringVarP(&note, "message", "m", "", "Annotation for the running level")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Do not wait for the service to confirm")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func NewAnnotateCommand() *cobra.Command {
	var (
		note   string
		level  int
		noWait bool
	)
	cmd := &cobra.Command{
		Use:   "annotate ID",
		Short: "Write the annotation of a level without changing levels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, args[0], noWait, func(tr *tracker.Tracker, id int64) (tracker.Outcome, error) {
				return tr.Annotate(id, level, note)
			})
		},
	}
	cmd.Flags().StringVarP(&note, "message", "m", "", "Annotation text")
	cmd.Flags().IntVar(&level, "level", 0, "Level to annotate (default: running level)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Do not wait for the service to confirm")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func NewOperatorCommand() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "operator ID NAME",
		Short: "Set the operator responsible for an incident",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, args[0], noWait, func(tr *tracker.Tracker, id int64) (tracker.Outcome, error) {
				return tr.SetOperator(id, args[1])
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Do not wait for the service to confirm")
	return cmd
}
