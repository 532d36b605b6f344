package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/escalation-sync/pkg/escalctl/config"
	"github.com/telekom/escalation-sync/pkg/escalctl/output"
)

type Config struct {
	ConfigPath     string
	OutputWriter   io.Writer
	ErrWriter      io.Writer
	DefaultContext string
	// Context is the parent of every command context, e.g. a signal context.
	Context context.Context //nolint:containedctx // handed to cobra as the command context
}

type runtimeState struct {
	configPath       string
	cfg              *config.Config
	contextOverride  string
	outputFormat     string
	serverOverride   string
	operatorOverride string
	verbose          bool
	writer           io.Writer
	errWriter        io.Writer
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath:      cfg.ConfigPath,
		contextOverride: cfg.DefaultContext,
		writer:          cfg.OutputWriter,
		errWriter:       cfg.ErrWriter,
	}

	root := &cobra.Command{
		Use:           "escalctl",
		Short:         "Incident escalation client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.contextOverride == "" {
				rt.contextOverride = os.Getenv("ESCALCTL_CONTEXT")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("ESCALCTL_OUTPUT")
			}
			if rt.serverOverride == "" {
				rt.serverOverride = os.Getenv("ESCALCTL_SERVER")
			}
			if rt.operatorOverride == "" {
				rt.operatorOverride = os.Getenv("ESCALCTL_OPERATOR")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("ESCALCTL_VERBOSE"), "true")
			}

			// Skip config loading for commands that don't need it
			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			if _, err := output.ParseFormat(rt.outputFormat); err != nil {
				return err
			}

			cfg, err := config.Load(rt.configPath)
			switch {
			case err == nil:
				rt.cfg = cfg
			case errors.Is(err, os.ErrNotExist) && rt.serverOverride != "":
				// a server on the command line is enough to connect
				minimal := config.DefaultConfig()
				rt.cfg = &minimal
			default:
				return err
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.contextOverride, "context", "c", rt.contextOverride, "Context name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, wide, json, yaml")
	root.PersistentFlags().StringVar(&rt.serverOverride, "server", "", "Server override (bypass config), e.g. wss://host/ws")
	root.PersistentFlags().StringVar(&rt.operatorOverride, "operator", "", "Operator name recorded in audit events")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	base := cfg.Context
	if base == nil {
		base = context.Background()
	}
	root.SetContext(context.WithValue(base, runtimeKey{}, rt))

	root.AddCommand(
		NewConfigCommand(),
		NewStateCommand(),
		NewWatchCommand(),
		NewStartCommand(),
		NewAdvanceCommand(),
		NewRollbackCommand(),
		NewResolveCommand(),
		NewAnnotateCommand(),
		NewOperatorCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) ResolveContextName() string {
	if rt.contextOverride != "" {
		return rt.contextOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentContextOrDefault()
	}
	return ""
}

func (rt *runtimeState) OutputFormat() output.Format {
	if rt.outputFormat != "" {
		return output.Format(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.Format(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatTable
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) ErrWriter() io.Writer {
	if rt.errWriter != nil {
		return rt.errWriter
	}
	return os.Stderr
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

// ResolveContext returns the selected context. With a server override and no
// matching context an ad-hoc context is returned.
func (rt *runtimeState) ResolveContext() (*config.Context, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	name := rt.ResolveContextName()
	if name == "" {
		if rt.serverOverride != "" {
			return &config.Context{Name: "adhoc", Server: rt.serverOverride}, nil
		}
		return nil, errors.New("no context configured")
	}
	return rt.cfg.FindContext(name)
}

func (rt *runtimeState) resolveServer(ctx *config.Context) string {
	if rt.serverOverride != "" {
		return rt.serverOverride
	}
	if ctx != nil {
		return ctx.Server
	}
	return ""
}

func (rt *runtimeState) resolveOperator() string {
	if rt.operatorOverride != "" {
		return rt.operatorOverride
	}
	if rt.cfg != nil {
		return rt.cfg.Settings.Operator
	}
	return ""
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}
