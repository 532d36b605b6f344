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
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/telekom/escalation-sync/pkg/metrics"
)

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	// Name identifies the sink in metrics. Default: kafka
	Name    string
	Brokers []string
	Topic   string
	// TLS is used towards the brokers when set.
	TLS *tls.Config
	// Compression is one of none, gzip, snappy, lz4, zstd. Default: snappy
	Compression string
	// FlushInterval is how long the writer waits to fill a batch. Default: 50ms
	FlushInterval time.Duration
	// WriteTimeout bounds one broker write. Default: 10s
	WriteTimeout time.Duration
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit events to a topic. The record key is the incident id,
// so every event of one incident lands on the same partition and stays ordered.
// Events without an incident (connection changes) are keyed by event id.
type KafkaSink struct {
	name   string
	topic  string
	writer messageWriter
	log    *zap.Logger

	mu     sync.Mutex
	closed bool

	written atomic.Int64
	failed  atomic.Int64
	healthy atomic.Bool
}

// KafkaStats counts records handed to the brokers.
type KafkaStats struct {
	Written int64
	Failed  int64
}

// NewKafkaSink creates a sink. Brokers are contacted on the first write.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	switch {
	case len(cfg.Brokers) == 0:
		return nil, errors.New("at least one Kafka broker is required")
	case cfg.Topic == "":
		return nil, errors.New("Kafka topic is required")
	}
	compression, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "kafka"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 50 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.FlushInterval,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  compression,
		Transport:    &kafka.Transport{TLS: cfg.TLS},
	}

	logger.Debug("Kafka audit sink configured",
		zap.String("name", cfg.Name),
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("tls", cfg.TLS != nil))
	return newKafkaSinkWithWriter(cfg.Name, cfg.Topic, w, logger), nil
}

func newKafkaSinkWithWriter(name, topic string, w messageWriter, logger *zap.Logger) *KafkaSink {
	s := &KafkaSink{name: name, topic: topic, writer: w, log: logger.Named("kafka-audit")}
	s.healthy.Store(true)
	return s
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	case "snappy", "":
		return kafka.Snappy, nil
	}
	return 0, fmt.Errorf("unknown compression codec %q", name)
}

// failureKind labels a write error for the sink error metric.
func failureKind(err error) string {
	if err == nil {
		return ""
	}
	var batch kafka.WriteErrors
	if errors.As(err, &batch) {
		for _, e := range batch {
			if e != nil {
				return failureKind(e)
			}
		}
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch {
		case kerr == kafka.UnknownTopicOrPartition || kerr == kafka.TopicAuthorizationFailed:
			return "topic"
		case kerr.Timeout():
			return "timeout"
		}
		return "broker"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return "tls"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}
	return "other"
}

// record turns an event into a Kafka message.
func record(event *Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal audit event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "severity", Value: []byte(event.Severity)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}
	if id := event.Target.Incident; id != 0 {
		msg.Key = strconv.AppendInt(nil, id, 10)
		msg.Headers = append(msg.Headers, kafka.Header{Key: "incident", Value: msg.Key})
	}
	if l := event.Target.Level; l != 0 {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "level", Value: []byte(strconv.Itoa(l))})
	}
	if event.Actor.User != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "actor", Value: []byte(event.Actor.User)})
	}
	if event.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlation-id", Value: []byte(event.CorrelationID)})
	}
	return msg, nil
}

// Write publishes one event.
func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		metrics.AuditSinkErrors.WithLabelValues(s.name, "closed").Inc()
		return errors.New("kafka sink is closed")
	}

	msg, err := record(event)
	if err != nil {
		s.failed.Add(1)
		metrics.AuditSinkErrors.WithLabelValues(s.name, "serialization").Inc()
		return err
	}

	start := time.Now()
	err = s.writer.WriteMessages(ctx, msg)
	metrics.AuditSinkLatency.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := failureKind(err)
		s.failed.Add(1)
		metrics.AuditSinkErrors.WithLabelValues(s.name, kind).Inc()
		if s.healthy.Swap(false) {
			s.log.Warn("Kafka audit sink unavailable, events are dropped",
				zap.String("kind", kind), zap.Int64("incident", event.Target.Incident), zap.Error(err))
		} else {
			s.log.Debug("Audit event dropped", zap.String("event_id", event.ID), zap.Error(err))
		}
		return fmt.Errorf("failed to write to Kafka (%s): %w", kind, err)
	}

	s.written.Add(1)
	if !s.healthy.Swap(true) {
		s.log.Info("Kafka audit sink recovered", zap.String("topic", s.topic))
	}
	return nil
}

// Healthy reports whether the last write succeeded.
func (s *KafkaSink) Healthy() bool {
	return s.healthy.Load()
}

// Stats returns the write counters.
func (s *KafkaSink) Stats() KafkaStats {
	return KafkaStats{Written: s.written.Load(), Failed: s.failed.Load()}
}

// Close flushes pending batches and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	st := s.Stats()
	s.log.Debug("Closing Kafka audit sink",
		zap.String("topic", s.topic), zap.Int64("written", st.Written), zap.Int64("failed", st.Failed))
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}

// Name returns the sink identifier.
func (s *KafkaSink) Name() string {
	return s.name
}
