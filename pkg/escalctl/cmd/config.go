package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/escalation-sync/pkg/escalctl/config"
	"github.com/telekom/escalation-sync/pkg/escalctl/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage escalctl configuration",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigContextsCommand(),
		newConfigCurrentContextCommand(),
		newConfigSetContextCommand(),
		newConfigUseContextCommand(),
		newConfigSetValueCommand(),
		newConfigAddContextCommand(),
		newConfigDeleteContextCommand(),
	)

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		contextName string
		server      string
		caFile      string
		insecure    bool
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an escalctl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			if err := config.ValidateServer(server); err != nil {
				return err
			}
			if contextName == "" {
				contextName = "default"
			}
			cfg := config.DefaultConfig()
			cfg.CurrentContext = contextName
			cfg.Contexts = append(cfg.Contexts, config.Context{
				Name:                  contextName,
				Server:                server,
				CAFile:                caFile,
				InsecureSkipTLSVerify: insecure,
			})
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&contextName, "context", "default", "Context name")
	cmd.Flags().StringVar(&server, "server", "", "Escalation service URL (ws:// or wss://)")
	cmd.Flags().StringVar(&caFile, "ca-file", "", "CA bundle for wss:// servers")
	cmd.Flags().BoolVar(&insecure, "insecure-skip-tls-verify", false, "Skip TLS verification")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")

	_ = cmd.MarkFlagRequired("server")
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			format := rt.OutputFormat()
			if format == output.FormatTable || format == output.FormatWide {
				format = output.FormatYAML
			}
			return output.WriteObject(rt.Writer(), format, rt.cfg)
		},
	}
}

func newConfigContextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-contexts",
		Short: "List configured contexts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			output.WriteContextTable(rt.Writer(), rt.cfg.Contexts, rt.cfg.CurrentContext)
			return nil
		},
	}
}

func newConfigSetContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-context NAME",
		Short: "Set the default context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := args[0]
			if _, err := rt.cfg.FindContext(name); err != nil {
				return err
			}
			rt.cfg.CurrentContext = name
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "%s\n", name)
			return nil
		},
	}
}

func newConfigUseContextCommand() *cobra.Command {
	cmd := newConfigSetContextCommand()
	cmd.Use = "use-context NAME"
	cmd.Aliases = []string{"use"}
	cmd.Short = "Alias for set-context"
	return cmd
}

func newConfigCurrentContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-context",
		Short: "Show the current context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), rt.cfg.CurrentContext)
			return nil
		},
	}
}

func newConfigSetValueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long: "Supported keys: settings.output-format, settings.reconnect-delay, settings.sync-timeout, " +
			"settings.resync-after, settings.level-duration, settings.min-annotation-length, settings.operator",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			key := args[0]
			value := args[1]
			s := &rt.cfg.Settings
			switch key {
			case "settings.output-format":
				if _, err := output.ParseFormat(value); err != nil {
					return err
				}
				s.OutputFormat = value
			case "settings.reconnect-delay":
				s.ReconnectDelay = value
			case "settings.sync-timeout":
				s.SyncTimeout = value
			case "settings.resync-after":
				s.ResyncAfter = value
			case "settings.level-duration":
				s.LevelDuration = value
			case "settings.min-annotation-length":
				n, err := strconv.Atoi(value)
				if err != nil {
					return fmt.Errorf("invalid annotation length: %s", value)
				}
				s.MinAnnotationLength = n
			case "settings.operator":
				s.Operator = strings.TrimSpace(value)
			default:
				return fmt.Errorf("unsupported key: %s", key)
			}
			if _, err := s.Timing(); err != nil {
				return err
			}
			return config.Save(rt.configPathValue(), rt.cfg)
		},
	}
}

func newConfigAddContextCommand() *cobra.Command {
	var (
		server       string
		caFile       string
		insecure     bool
		auditLog     bool
		kafkaBrokers []string
		kafkaTopic   string
		compression  string
		kafkaTLS     bool
		kafkaCAFile  string
	)
	cmd := &cobra.Command{
		Use:   "add-context NAME",
		Short: "Add a new context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := args[0]
			if _, err := rt.cfg.FindContext(name); err == nil {
				return fmt.Errorf("context already exists: %s", name)
			}
			if err := config.ValidateServer(server); err != nil {
				return err
			}
			ctx := config.Context{
				Name:                  name,
				Server:                server,
				CAFile:                caFile,
				InsecureSkipTLSVerify: insecure,
			}
			if auditLog || len(kafkaBrokers) > 0 || kafkaTopic != "" {
				ctx.Audit = &config.Audit{Log: auditLog}
				if len(kafkaBrokers) > 0 || kafkaTopic != "" {
					if len(kafkaBrokers) == 0 || kafkaTopic == "" {
						return fmt.Errorf("audit-kafka-brokers and audit-kafka-topic must be set together")
					}
					ctx.Audit.Kafka = &config.Kafka{
						Brokers:     kafkaBrokers,
						Topic:       kafkaTopic,
						Compression: compression,
						TLS:         kafkaTLS,
						CAFile:      kafkaCAFile,
					}
				}
			}
			rt.cfg.Contexts = append(rt.cfg.Contexts, ctx)
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Added context %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Escalation service URL (ws:// or wss://)")
	cmd.Flags().StringVar(&caFile, "ca-file", "", "CA bundle for wss:// servers")
	cmd.Flags().BoolVar(&insecure, "insecure-skip-tls-verify", false, "Skip TLS verification")
	cmd.Flags().BoolVar(&auditLog, "audit-log", false, "Write audit events to the log")
	cmd.Flags().StringSliceVar(&kafkaBrokers, "audit-kafka-brokers", nil, "Kafka brokers for audit events")
	cmd.Flags().StringVar(&kafkaTopic, "audit-kafka-topic", "", "Kafka topic for audit events")
	cmd.Flags().StringVar(&compression, "audit-kafka-compression", "", "Kafka compression: none, gzip, snappy, lz4, zstd")
	cmd.Flags().BoolVar(&kafkaTLS, "audit-kafka-tls", false, "Use TLS towards the Kafka brokers")
	cmd.Flags().StringVar(&kafkaCAFile, "audit-kafka-ca-file", "", "CA bundle for the Kafka brokers")
	_ = cmd.MarkFlagRequired("server")
	return cmd
}

func newConfigDeleteContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-context NAME",
		Short: "Delete a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := args[0]
			contexts := rt.cfg.Contexts
			filtered := contexts[:0]
			found := false
			for _, ctx := range contexts {
				if ctx.Name == name {
					found = true
					continue
				}
				filtered = append(filtered, ctx)
			}
			if !found {
				return fmt.Errorf("context not found: %s", name)
			}
			rt.cfg.Contexts = filtered
			if rt.cfg.CurrentContext == name {
				rt.cfg.CurrentContext = ""
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Deleted context %s\n", name)
			return nil
		},
	}
}
