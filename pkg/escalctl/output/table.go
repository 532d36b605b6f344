package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/telekom/escalation-sync/pkg/countdown"
	"github.com/telekom/escalation-sync/pkg/escalctl/config"
	"github.com/telekom/escalation-sync/pkg/incident"
)

// IncidentRow is one incident together with its live countdown.
type IncidentRow struct {
	State incident.State `json:"state" yaml:"state"`
	// Live is the locally advanced remaining time of the running level.
	Live int64 `json:"remaining" yaml:"remaining"`
	// Pending counts unconfirmed transitions.
	Pending int `json:"pending,omitempty" yaml:"pending,omitempty"`
}

func WriteIncidentTable(w io.Writer, rows []IncidentRow, now time.Time) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tPHASE\tREMAINING\tPROGRESS\tOPERATOR\tUPDATED")
	for _, r := range rows {
		st := r.State
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", st.ID, phase(r), remaining(r), progress(st),
			dash(st.Operator), updated(st.ReceivedAt, now))
	}
	_ = tw.Flush()
}

// WriteIncidentTableWide adds one column per level.
func WriteIncidentTableWide(w io.Writer, rows []IncidentRow, now time.Time) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	header := []string{"ID", "PHASE"}
	for l := 1; l <= incident.LevelCount; l++ {
		header = append(header, fmt.Sprintf("L%d", l))
	}
	header = append(header, "OPERATOR", "PENDING", "UPDATED")
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		st := r.State
		cols := []string{fmt.Sprintf("%d", st.ID), phase(r)}
		for l := 1; l <= incident.LevelCount; l++ {
			cols = append(cols, levelCell(st, l, r.Live))
		}
		cols = append(cols, dash(st.Operator), fmt.Sprintf("%d", r.Pending), updated(st.ReceivedAt, now))
		_, _ = fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	_ = tw.Flush()
}

// WriteIncidentDetail prints the level ladder of one incident.
func WriteIncidentDetail(w io.Writer, r IncidentRow, now time.Time) {
	st := r.State
	_, _ = fmt.Fprintf(w, "Incident:  %d\n", st.ID)
	_, _ = fmt.Fprintf(w, "Phase:     %s\n", phase(r))
	_, _ = fmt.Fprintf(w, "Operator:  %s\n", dash(st.Operator))
	_, _ = fmt.Fprintf(w, "Progress:  %s\n", progress(st))
	_, _ = fmt.Fprintf(w, "Updated:   %s\n\n", updated(st.ReceivedAt, now))

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LEVEL\tSTATUS\tREMAINING\tANNOTATION")
	for l := 1; l <= incident.LevelCount; l++ {
		lv := st.Level(l)
		rem := "-"
		if lv.Status == incident.StatusRunning {
			rem = countdown.FormatTime(r.Live)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", l, lv.Status, rem, dash(lv.Annotation))
	}
	_ = tw.Flush()
}

func WriteContextTable(w io.Writer, contexts []config.Context, current string) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CURRENT\tNAME\tSERVER\tAUDIT")
	for _, c := range contexts {
		marker := ""
		if c.Name == current {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, c.Name, c.Server, auditSummary(c.Audit))
	}
	_ = tw.Flush()
}

func auditSummary(a *config.Audit) string {
	if a == nil {
		return "-"
	}
	var sinks []string
	if a.Log {
		sinks = append(sinks, "log")
	}
	if a.Kafka != nil {
		sinks = append(sinks, "kafka:"+a.Kafka.Topic)
	}
	if len(sinks) == 0 {
		return "-"
	}
	return strings.Join(sinks, ",")
}

func phase(r IncidentRow) string {
	p := r.State.Phase()
	if r.Pending > 0 {
		return p + " (pending)"
	}
	return p
}

func remaining(r IncidentRow) string {
	if r.State.RunningLevel() == 0 {
		return "-"
	}
	return countdown.FormatTime(r.Live)
}

func progress(st incident.State) string {
	return fmt.Sprintf("%d/%d", st.FinishedLevels(), incident.LevelCount)
}

func levelCell(st incident.State, level int, live int64) string {
	switch st.Level(level).Status {
	case incident.StatusRunning:
		return countdown.FormatTime(live)
	case incident.StatusFinished:
		return "done"
	default:
		return "-"
	}
}

func updated(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
