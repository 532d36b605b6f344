package system

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{false, true} {
		logger, err := NewLogger(debug)
		require.NoError(t, err)
		assert.Equal(t, debug, logger.Core().Enabled(zap.DebugLevel))
	}
}

func TestNewCLILoggerHidesInfoUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	quiet := NewCLILogger(false, &buf)
	quiet.Info("connected")
	quiet.Warn("connection lost")
	assert.NotContains(t, buf.String(), "connected")
	assert.Contains(t, buf.String(), "connection lost")

	buf.Reset()
	verbose := NewCLILogger(true, &buf)
	verbose.Debug("command sent", zap.String("command", "get_state(#1)"))
	assert.Contains(t, buf.String(), "command sent")
	assert.Contains(t, buf.String(), "get_state(#1)")
}

func TestGetReqLoggerFallbackWhenContextNil(t *testing.T) {
	fallback := zap.NewNop().Sugar()
	require.Same(t, fallback, GetReqLogger(nil, fallback))
}

func TestGetReqLoggerFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	stored := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, stored)
	require.Same(t, stored, GetReqLogger(ctx, fallback))
}

func TestGetReqLoggerIgnoresInvalidTypes(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, "not-a-logger")
	require.Same(t, fallback, GetReqLogger(ctx, fallback))
}

func TestIncidentFields(t *testing.T) {
	require.Equal(t, []interface{}{"incident", int64(7), "level", 2}, IncidentFields(7, 2))
	require.Equal(t, []interface{}{"incident", int64(7)}, IncidentFields(7, 0))
}
