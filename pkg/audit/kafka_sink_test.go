/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func headerMap(msg kafka.Message) map[string]string {
	out := map[string]string{}
	for _, h := range msg.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestKafkaSinkConfig_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name    string
		cfg     KafkaSinkConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid minimal config",
			cfg: KafkaSinkConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "escalation-audit",
			},
		},
		{
			name:    "missing brokers",
			cfg:     KafkaSinkConfig{Topic: "escalation-audit"},
			wantErr: true,
			errMsg:  "at least one Kafka broker is required",
		},
		{
			name:    "missing topic",
			cfg:     KafkaSinkConfig{Brokers: []string{"localhost:9092"}},
			wantErr: true,
			errMsg:  "Kafka topic is required",
		},
		{
			name: "unknown compression",
			cfg: KafkaSinkConfig{
				Brokers:     []string{"localhost:9092"},
				Topic:       "escalation-audit",
				Compression: "brotli",
			},
			wantErr: true,
			errMsg:  "unknown compression codec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewKafkaSink(tt.cfg, logger)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "kafka", sink.Name())
			assert.True(t, sink.Healthy())
			require.NoError(t, sink.Close())
		})
	}
}

func TestKafkaSink_CompressionCodecs(t *testing.T) {
	for _, codec := range []string{"", "none", "gzip", "snappy", "lz4", "zstd"} {
		_, err := compressionCodec(codec)
		assert.NoError(t, err, codec)
	}
}

func TestKafkaSink_WriteKeysByIncident(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSinkWithWriter("kafka", "audit", w, zaptest.NewLogger(t))

	event := &Event{
		ID:            "e-1",
		Type:          EventTransitionDispatched,
		Severity:      SeverityInfo,
		Timestamp:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Actor:         Actor{User: "ana"},
		Target:        Target{Incident: 123456, Level: 1},
		CorrelationID: "c-9",
	}
	require.NoError(t, sink.Write(context.Background(), event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "123456", string(msg.Key))
	headers := headerMap(msg)
	assert.Equal(t, "transition.dispatched", headers["event-type"])
	assert.Equal(t, "ana", headers["actor"])
	assert.Equal(t, "c-9", headers["correlation-id"])
	assert.Equal(t, "2025-01-02T03:04:05Z", headers["timestamp"])

	assert.Equal(t, "123456", headers["incident"])
	assert.Equal(t, "1", headers["level"])

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(123456), decoded.Target.Incident)

	assert.Equal(t, KafkaStats{Written: 1}, sink.Stats())
}

func TestKafkaSink_WriteWithoutIncidentUsesEventID(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSinkWithWriter("kafka", "audit", w, zaptest.NewLogger(t))
	require.NoError(t, sink.Write(context.Background(), &Event{ID: "e-2", Type: EventConnectionLost}))
	assert.Equal(t, "e-2", string(w.msgs[0].Key))
	assert.NotContains(t, headerMap(w.msgs[0]), "incident")
}

func TestKafkaSink_WriteFailureMarksUnhealthy(t *testing.T) {
	w := &fakeWriter{err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	sink := newKafkaSinkWithWriter("kafka", "audit", w, zaptest.NewLogger(t))

	err := sink.Write(context.Background(), &Event{ID: "e-3", Target: Target{Incident: 9}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(network)")
	assert.False(t, sink.Healthy())

	w.err = nil
	require.NoError(t, sink.Write(context.Background(), &Event{ID: "e-4"}))
	assert.True(t, sink.Healthy())
	assert.Equal(t, KafkaStats{Written: 1, Failed: 1}, sink.Stats())
}

func TestKafkaSink_WriteAfterClose(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSinkWithWriter("kafka", "audit", w, zaptest.NewLogger(t))

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.True(t, w.closed)

	err := sink.Write(context.Background(), &Event{ID: "late"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"context deadline exceeded", context.DeadlineExceeded, "timeout"},
		{"wrapped deadline", fmt.Errorf("operation failed: %w", context.DeadlineExceeded), "timeout"},
		{"context canceled", context.Canceled, "cancelled"},
		{"dial refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, "network"},
		{"dns", &net.DNSError{Name: "broker.example.com", IsNotFound: true}, "network"},
		{"dns timeout", &net.DNSError{Name: "broker.example.com", IsTimeout: true}, "timeout"},
		{"unknown topic", kafka.UnknownTopicOrPartition, "topic"},
		{"topic denied", fmt.Errorf("write: %w", kafka.TopicAuthorizationFailed), "topic"},
		{"leader moved", kafka.NotLeaderForPartition, "broker"},
		{"request timed out", kafka.RequestTimedOut, "timeout"},
		{"batch errors", kafka.WriteErrors{nil, kafka.LeaderNotAvailable}, "broker"},
		{"certificate", &tls.CertificateVerificationError{Err: errors.New("unknown authority")}, "tls"},
		{"generic error", errors.New("something went wrong"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, failureKind(tt.err))
		})
	}
}
