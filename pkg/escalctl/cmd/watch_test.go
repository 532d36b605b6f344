package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/escalation-sync/pkg/codec"
	"github.com/telekom/escalation-sync/pkg/escalationtest"
	"github.com/telekom/escalation-sync/pkg/escalctl/config"
	"github.com/telekom/escalation-sync/pkg/incident"
)

// syncBuffer is a bytes.Buffer safe for a writer and a concurrent reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestWatchOnce(t *testing.T) {
	srv := escalationtest.NewServer()
	defer srv.Close()
	st := incident.NewState(123456)
	st.Levels[0].Status = incident.StatusFinished
	st.Levels[1].Status = incident.StatusRunning
	st.Levels[1].Remaining = 125
	srv.Seed(st)
	path := serverConfig(t)

	out, err := execute(t, path, "--server", srv.URL(), "watch", "123456", "5", "--once")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "123456")
	assert.Contains(t, lines[1], "level 2")
	assert.Contains(t, lines[1], "1/5")
	assert.Contains(t, lines[2], "idle")
	assert.Equal(t, []codec.Command{codec.GetState(5), codec.GetState(123456)}, srv.Commands())
}

func TestWatchRejectsBadOptions(t *testing.T) {
	path := serverConfig(t)

	_, err := execute(t, path, "--server", "ws://127.0.0.1:1/ws", "watch", "1", "--interval", "0s")
	require.EqualError(t, err, "interval must be positive")
}

func TestWatchRejectsBadSchedule(t *testing.T) {
	srv := escalationtest.NewServer()
	defer srv.Close()
	path := serverConfig(t)

	_, err := execute(t, path, "--server", srv.URL(), "watch", "1", "--resync-schedule", "every now and then")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid resync schedule")
}

// A running watch redraws, serves the status API and stops on cancellation.
func TestWatchServesStatusAPI(t *testing.T) {
	srv := escalationtest.NewServer()
	defer srv.Close()
	srv.Seed(incident.NewState(77))

	path := configPathForTest(t)
	cfg := config.DefaultConfig()
	cfg.Settings.SyncTimeout = "2s"
	cfg.Settings.ReconnectDelay = "50ms"
	require.NoError(t, config.Save(path, &cfg))

	addr := freeAddress(t)
	buf := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root := NewRootCommand(Config{ConfigPath: path, OutputWriter: buf, ErrWriter: &syncBuffer{}, Context: ctx})
	root.SetArgs([]string{"--server", srv.URL(), "watch", "77",
		"--interval", "20ms", "--status-address", addr, "--resync-schedule", "@every 1s"})

	done := make(chan error, 1)
	go func() { done <- root.Execute() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/api/incidents/77", addr))
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return strings.Contains(buf.String(), "77") }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(srv.Commands()) >= 2 }, 3*time.Second, 50*time.Millisecond,
		"the resync schedule requests the state again")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}
