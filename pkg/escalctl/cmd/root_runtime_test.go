package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/escalation-sync/pkg/escalctl/config"
	"github.com/telekom/escalation-sync/pkg/escalctl/output"
)

func TestRuntimeStateResolveContextName(t *testing.T) {
	rt := &runtimeState{contextOverride: "override"}
	require.Equal(t, "override", rt.ResolveContextName())

	rt = &runtimeState{cfg: &config.Config{CurrentContext: "ctx"}}
	require.Equal(t, "ctx", rt.ResolveContextName())

	rt = &runtimeState{cfg: &config.Config{Contexts: []config.Context{{Name: "first"}}}}
	require.Equal(t, "first", rt.ResolveContextName())
}

func TestRuntimeStateOutputFormat(t *testing.T) {
	rt := &runtimeState{outputFormat: "json"}
	require.Equal(t, output.FormatJSON, rt.OutputFormat())

	rt = &runtimeState{cfg: &config.Config{Settings: config.Settings{OutputFormat: "yaml"}}}
	require.Equal(t, output.FormatYAML, rt.OutputFormat())

	rt = &runtimeState{}
	require.Equal(t, output.FormatTable, rt.OutputFormat())
}

func TestEnsureConfigLoaded(t *testing.T) {
	path := configPathForTest(t)
	cfg := config.DefaultConfig()
	cfg.Contexts = []config.Context{{Name: "ctx", Server: "ws://example.com/ws"}}
	require.NoError(t, config.Save(path, &cfg))

	rt := &runtimeState{configPath: path}
	require.NoError(t, rt.EnsureConfigLoaded())
	require.NotNil(t, rt.cfg)
}

func TestResolveContext(t *testing.T) {
	rt := &runtimeState{}
	_, err := rt.ResolveContext()
	require.EqualError(t, err, "config not loaded")

	rt = &runtimeState{cfg: &config.Config{}}
	_, err = rt.ResolveContext()
	require.EqualError(t, err, "no context configured")

	rt = &runtimeState{cfg: &config.Config{}, serverOverride: "ws://localhost:1/ws"}
	ctx, err := rt.ResolveContext()
	require.NoError(t, err)
	assert.Equal(t, "adhoc", ctx.Name)
	assert.Equal(t, "ws://localhost:1/ws", rt.resolveServer(ctx))

	rt = &runtimeState{cfg: &config.Config{Contexts: []config.Context{{Name: "a", Server: "ws://a/ws"}}}, contextOverride: "b"}
	_, err = rt.ResolveContext()
	require.EqualError(t, err, "context not found: b")
}

func TestResolveOperator(t *testing.T) {
	rt := &runtimeState{cfg: &config.Config{Settings: config.Settings{Operator: "ana"}}}
	assert.Equal(t, "ana", rt.resolveOperator())
	assert.Equal(t, "ana", rt.actor().User)

	rt.operatorOverride = "joao"
	assert.Equal(t, "joao", rt.resolveOperator())
}

func TestNewAuditManager(t *testing.T) {
	rt := &runtimeState{cfg: &config.Config{}}

	m, err := rt.newAuditManager(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = rt.newAuditManager(&config.Audit{})
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = rt.newAuditManager(&config.Audit{Log: true})
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, m.Close())

	m, err = rt.newAuditManager(&config.Audit{Log: true, Kafka: &config.Kafka{
		Brokers: []string{"127.0.0.1:9092"}, Topic: "escalation-audit", Compression: "gzip",
	}})
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, m.Close())

	_, err = rt.newAuditManager(&config.Audit{Kafka: &config.Kafka{
		Brokers: []string{"127.0.0.1:9092"}, Topic: "t", Compression: "brotli",
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.kafka")
}
