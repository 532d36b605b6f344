package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/escalation-sync/pkg/codec"
	"github.com/telekom/escalation-sync/pkg/escalationtest"
	"github.com/telekom/escalation-sync/pkg/escalctl/config"
	"github.com/telekom/escalation-sync/pkg/incident"
)

// serverConfig writes a config with short timeouts and no contexts, so the
// --server flag decides where to connect.
func serverConfig(t *testing.T) string {
	t.Helper()
	path := configPathForTest(t)
	cfg := config.DefaultConfig()
	cfg.Settings.SyncTimeout = "2s"
	cfg.Settings.ReconnectDelay = "50ms"
	cfg.Settings.ResyncAfter = "0s"
	require.NoError(t, config.Save(path, &cfg))
	return path
}

func TestParseIncidentID(t *testing.T) {
	id, err := parseIncidentID("123456")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), id)

	for _, bad := range []string{"", "abc", "0", "-4", "1.5"} {
		_, err := parseIncidentID(bad)
		require.Error(t, err, bad)
	}
}

func TestStateCommand(t *testing.T) {
	srv := escalationtest.NewServer()
	defer srv.Close()
	st := incident.NewState(42)
	st.Levels[0].Status = incident.StatusRunning
	st.Levels[0].Remaining = 125
	st.Operator = "maria"
	srv.Seed(st)
	path := serverConfig(t)

	out, err := execute(t, path, "--server", srv.URL(), "state", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "Incident:  42")
	assert.Contains(t, out, "level 1")
	assert.Contains(t, out, "maria")

	out, err = execute(t, path, "--server", srv.URL(), "-o", "json", "state", "42", "7")
	require.NoError(t, err)
	var rows []struct {
		State     incident.State `json:"state"`
		Remaining int64          `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, int64(42), rows[0].State.ID)
	assert.LessOrEqual(t, rows[0].Remaining, int64(125))
	assert.Equal(t, int64(7), rows[1].State.ID)
	assert.Equal(t, "idle", rows[1].State.Phase())

	assert.Equal(t, []codec.Command{codec.GetState(42), codec.GetState(7), codec.GetState(42)}, srv.Commands())
}

func TestStateCommandRejectsBadInput(t *testing.T) {
	path := serverConfig(t)

	_, err := execute(t, path, "--server", "ws://127.0.0.1:1/ws", "state", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid incident id")

	_, err = execute(t, path, "--server", "http://127.0.0.1:1", "state", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be ws or wss")

	_, err = execute(t, path, "--server", "ws://127.0.0.1:1/ws", "-o", "xml", "state", "1")
	require.EqualError(t, err, "unknown output format: xml")
}

func TestStateCommandTimesOutWhenUnreachable(t *testing.T) {
	path := configPathForTest(t)
	cfg := config.DefaultConfig()
	cfg.Settings.SyncTimeout = "200ms"
	cfg.Settings.ReconnectDelay = "50ms"
	require.NoError(t, config.Save(path, &cfg))

	_, err := execute(t, path, "--server", "ws://127.0.0.1:1/ws", "state", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not connect")
}

func TestEscalationLifecycleCommands(t *testing.T) {
	srv := escalationtest.NewServer()
	defer srv.Close()
	path := serverConfig(t)
	run := func(args ...string) (string, error) {
		return execute(t, path, append([]string{"--server", srv.URL()}, args...)...)
	}

	out, err := run("start", "123456")
	require.NoError(t, err)
	assert.Contains(t, out, "incident 123456: level 1 started")
	assert.Contains(t, out, "20:00")

	_, err = run("advance", "123456", "-m", "too short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "annotation_too_short")

	out, err = run("advance", "123456", "-m", "database team paged", "--to", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "advanced from level 1 to level 2")

	out, err = run("annotate", "123456", "-m", "bridge call opened")
	require.NoError(t, err)
	assert.Contains(t, out, "annotation of level 2 sent")

	out, err = run("operator", "123456", "maria")
	require.NoError(t, err)
	assert.Contains(t, out, `operator set to "maria"`)

	out, err = run("rollback", "123456", "-m", "wrong team, back to L1")
	require.NoError(t, err)
	assert.Contains(t, out, "rolled back from level 2 to level 1")

	out, err = run("-o", "json", "resolve", "123456", "-m", "root cause fixed by restart")
	require.NoError(t, err)
	var res transitionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Confirmed)
	assert.Equal(t, 2, res.Sent)
	require.NotNil(t, res.State)
	assert.True(t, res.State.IsFinalized())

	_, err = run("start", "123456")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finalized")

	st := srv.State(123456)
	assert.Equal(t, "root cause fixed by restart", st.Level(1).Annotation)
	assert.Equal(t, "wrong team, back to L1", st.Level(2).Annotation)
	assert.Equal(t, "maria", st.Operator)
}

func TestTransitionNoWait(t *testing.T) {
	srv := escalationtest.NewServer()
	defer srv.Close()
	path := serverConfig(t)

	_, err := execute(t, path, "--server", srv.URL(), "start", "9")
	require.NoError(t, err)

	out, err := execute(t, path, "--server", srv.URL(), "advance", "9", "-m", "escalating to tier two", "--no-wait")
	require.NoError(t, err)
	assert.Contains(t, out, "advanced from level 1 to level 2")
	assert.Contains(t, out, "2/2 commands sent")
}
