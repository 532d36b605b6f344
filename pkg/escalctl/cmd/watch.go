package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/telekom/escalation-sync/pkg/api"
	"github.com/telekom/escalation-sync/pkg/escalctl/output"
	"github.com/telekom/escalation-sync/pkg/system"
	"github.com/telekom/escalation-sync/pkg/tracker"
)

type watchOptions struct {
	interval          time.Duration
	once              bool
	resyncSchedule    string
	resyncOnReconnect bool
	statusAddress     string
	allowedOrigins    []string
}

func NewWatchCommand() *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch ID...",
		Short: "Follow incidents and show their countdowns",
		Long: "Requests the state of every given incident once and then follows pushed updates. " +
			"Countdowns are advanced locally between pushes.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ids, err := parseIncidentIDs(args)
			if err != nil {
				return err
			}
			if opts.interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}
			return runWatch(cmd.Context(), rt, ids, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "Redraw interval")
	cmd.Flags().BoolVar(&opts.once, "once", false, "Print the state once all incidents are known and exit")
	cmd.Flags().StringVar(&opts.resyncSchedule, "resync-schedule", "",
		`Cron schedule for explicit state requests, e.g. "@every 5m" (default: none)`)
	cmd.Flags().BoolVar(&opts.resyncOnReconnect, "resync-on-reconnect", true,
		"Request the watched incidents again after the connection comes back")
	cmd.Flags().StringVar(&opts.statusAddress, "status-address", "",
		"Serve the read-only status API and metrics on this address, e.g. :8090")
	cmd.Flags().StringSliceVar(&opts.allowedOrigins, "allowed-origins", nil, "CORS origins allowed to read the status API")
	return cmd
}

func runWatch(ctx context.Context, rt *runtimeState, ids []int64, opts watchOptions) error {
	c, err := rt.newClient(tracker.WithResyncOnReconnect(opts.resyncOnReconnect))
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		return err
	}
	c.tracker.Watch(ids)

	if opts.once {
		if err := c.awaitKnown(ctx, ids); err != nil {
			return err
		}
		return drawWatch(rt.Writer(), rt.OutputFormat(), c.tracker, ids)
	}

	if opts.resyncSchedule != "" {
		sched := cron.New()
		if _, err := sched.AddFunc(opts.resyncSchedule, func() {
			n := c.tracker.Resync()
			c.log.Sugar().Debugw("Scheduled resync", "requests", n)
		}); err != nil {
			return fmt.Errorf("invalid resync schedule %q: %w", opts.resyncSchedule, err)
		}
		sched.Start()
		defer sched.Stop()
	}

	apiErr := make(chan error, 1)
	if opts.statusAddress != "" {
		log, err := system.NewLogger(rt.verbose)
		if err != nil {
			return err
		}
		srv := api.NewServer(log, c.tracker, api.Config{
			ListenAddress:  opts.statusAddress,
			Debug:          rt.verbose,
			AllowedOrigins: opts.allowedOrigins,
		})
		defer srv.Close()
		go func() { apiErr <- srv.ListenAndServe(ctx) }()
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		if err := drawWatch(rt.Writer(), rt.OutputFormat(), c.tracker, ids); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-apiErr:
			if err != nil {
				return err
			}
			apiErr = nil
		case <-ticker.C:
		}
	}
}

func drawWatch(w io.Writer, format output.Format, tr *tracker.Tracker, ids []int64) error {
	rows := make([]output.IncidentRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, incidentRow(tr, id))
	}
	now := time.Now()
	switch format {
	case output.FormatTable:
		if !tr.Connected() {
			_, _ = fmt.Fprintln(w, "(disconnected, showing last known state)")
		}
		output.WriteIncidentTable(w, rows, now)
		_, _ = fmt.Fprintln(w)
		return nil
	default:
		return writeRows(w, format, rows, now)
	}
}
