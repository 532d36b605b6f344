package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"go.uber.org/zap"

	"github.com/telekom/escalation-sync/pkg/audit"
	"github.com/telekom/escalation-sync/pkg/escalctl/config"
	"github.com/telekom/escalation-sync/pkg/incident"
	"github.com/telekom/escalation-sync/pkg/policy"
	"github.com/telekom/escalation-sync/pkg/system"
	"github.com/telekom/escalation-sync/pkg/tracker"
	"github.com/telekom/escalation-sync/pkg/transport"
	"github.com/telekom/escalation-sync/pkg/version"
)

// client bundles the connection, tracker and audit trail of one command run.
type client struct {
	session *transport.Session
	tracker *tracker.Tracker
	audit   *audit.Manager
	timing  config.Timing
	log     *zap.Logger
}

func (rt *runtimeState) newClient(extra ...tracker.Option) (*client, error) {
	if err := rt.cfg.Validate(); err != nil {
		return nil, err
	}
	ctxCfg, err := rt.ResolveContext()
	if err != nil {
		return nil, err
	}
	server := rt.resolveServer(ctxCfg)
	if err := config.ValidateServer(server); err != nil {
		return nil, err
	}
	timing, err := rt.cfg.Settings.Timing()
	if err != nil {
		return nil, err
	}

	log := system.NewCLILogger(rt.verbose, rt.ErrWriter())
	session, err := transport.New(server,
		transport.WithLogger(log.Sugar().Named("transport")),
		transport.WithReconnectDelay(timing.ReconnectDelay),
		transport.WithTLSConfig(ctxCfg.CAFile, ctxCfg.InsecureSkipTLSVerify),
		transport.WithUserAgent(version.UserAgent()),
	)
	if err != nil {
		return nil, err
	}

	auditMgr, err := rt.newAuditManager(ctxCfg.Audit)
	if err != nil {
		return nil, err
	}

	engine := policy.NewEngine()
	engine.LevelDuration = timing.LevelDuration
	engine.MinAnnotationLength = timing.MinAnnotationLength

	opts := []tracker.Option{
		tracker.WithLogger(log.Sugar()),
		tracker.WithEngine(engine),
		tracker.WithResyncAfter(timing.ResyncAfter),
	}
	if auditMgr != nil {
		opts = append(opts, tracker.WithAudit(auditMgr))
	}
	opts = append(opts, extra...)

	return &client{
		session: session,
		tracker: tracker.New(session, opts...),
		audit:   auditMgr,
		timing:  timing,
		log:     log,
	}, nil
}

func (rt *runtimeState) newAuditManager(a *config.Audit) (*audit.Manager, error) {
	if a == nil {
		return nil, nil
	}
	log, err := system.NewLogger(rt.verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	var sinks []audit.Sink
	if a.Log {
		sinks = append(sinks, audit.NewLogSink(log))
	}
	if k := a.Kafka; k != nil {
		kcfg := audit.KafkaSinkConfig{
			Brokers:     k.Brokers,
			Topic:       k.Topic,
			Compression: k.Compression,
		}
		if k.TLS {
			tlsConfig, err := transport.LoadTLSConfig(k.CAFile, false)
			if err != nil {
				return nil, fmt.Errorf("audit.kafka: %w", err)
			}
			kcfg.TLS = tlsConfig
		}
		ks, err := audit.NewKafkaSink(kcfg, log)
		if err != nil {
			return nil, fmt.Errorf("audit.kafka: %w", err)
		}
		sinks = append(sinks, ks)
	}

	var sink audit.Sink
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		sink = sinks[0]
	default:
		sink = audit.NewMultiSink(sinks, log)
	}
	cfg := audit.DefaultManagerConfig()
	cfg.Actor = rt.actor()
	return audit.NewManager(sink, cfg, log), nil
}

// actor identifies who runs the client: the configured operator, else the OS user.
func (rt *runtimeState) actor() audit.Actor {
	a := audit.Actor{User: rt.resolveOperator()}
	if a.User == "" {
		if u, err := user.Current(); err == nil {
			a.User = u.Username
		}
	}
	a.Host, _ = os.Hostname()
	return a
}

// connect starts the tracker and waits up to the sync timeout for the connection.
func (c *client) connect(ctx context.Context) error {
	if err := c.tracker.Connect(ctx); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.timing.SyncTimeout)
	defer cancel()
	if err := c.session.WaitConnected(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("could not connect to %s within %s", c.session.URL(), c.timing.SyncTimeout)
		}
		return err
	}
	return nil
}

// load replaces the watch set with ids and waits for the first state of each.
func (c *client) load(ctx context.Context, ids ...int64) error {
	c.tracker.Watch(ids)
	return c.awaitKnown(ctx, ids)
}

// awaitKnown waits up to the sync timeout until every id has a known state.
func (c *client) awaitKnown(ctx context.Context, ids []int64) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.timing.SyncTimeout)
	defer cancel()
	for _, id := range ids {
		if _, err := c.tracker.Await(waitCtx, id, func(incident.State) bool { return true }); err != nil {
			return fmt.Errorf("no state received for incident %d: %w", id, err)
		}
	}
	return nil
}

// confirm waits until the service reports the outcome of a dispatched transition.
func (c *client) confirm(ctx context.Context, out tracker.Outcome) (incident.State, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.timing.SyncTimeout)
	defer cancel()
	st, err := c.tracker.Await(waitCtx, out.Incident, out.Expect.Satisfied)
	if err != nil {
		return incident.State{}, fmt.Errorf("%s sent but not confirmed: %w", out.Action, err)
	}
	return st, nil
}

func (c *client) Close() error {
	err := c.tracker.Close()
	if c.audit != nil {
		err = errors.Join(err, c.audit.Close())
	}
	_ = c.log.Sync()
	return err
}
