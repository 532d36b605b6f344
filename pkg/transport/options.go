package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Option configures a Session.
type Option func(*Session) error

// WithLogger sets the session logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Session) error {
		if log != nil {
			s.log = log.Named("transport")
		}
		return nil
	}
}

// WithReconnectDelay sets the constant delay between a lost connection and the
// next connection attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Session) error {
		if d <= 0 {
			return fmt.Errorf("reconnect delay must be positive, got %s", d)
		}
		s.reconnectDelay = d
		return nil
	}
}

// WithWriteTimeout bounds how long a single Send may block on the socket.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Session) error {
		if d <= 0 {
			return fmt.Errorf("write timeout must be positive, got %s", d)
		}
		s.writeTimeout = d
		return nil
	}
}

// WithHandshakeTimeout bounds the opening handshake of each connection attempt.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) error {
		s.dialer.HandshakeTimeout = d
		return nil
	}
}

// WithUserAgent sets the User-Agent header of the opening handshake.
func WithUserAgent(userAgent string) Option {
	return func(s *Session) error {
		if userAgent != "" {
			s.header.Set("User-Agent", userAgent)
		}
		return nil
	}
}

// WithHeader adds headers to the opening handshake.
func WithHeader(h http.Header) Option {
	return func(s *Session) error {
		for k, vs := range h {
			for _, v := range vs {
				s.header.Add(k, v)
			}
		}
		return nil
	}
}

// WithTLSConfig trusts the CA bundle in caFile (if set) for wss:// servers.
func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(s *Session) error {
		tlsConfig, err := LoadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		s.dialer.TLSClientConfig = tlsConfig
		return nil
	}
}

// LoadTLSConfig builds a client TLS config. A non-empty caFile replaces the system roots.
func LoadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} //nolint:gosec // opt-in via insecure-skip-tls-verify
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
