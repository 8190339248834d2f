// Package tcpcheck implements the "tcp" executor kind: connect to
// host:port, optionally negotiate TLS (implicit, or STARTTLS via a
// configurable upgrade command sent before the handshake), and
// optionally flag an impending certificate expiry as a warning.
package tcpcheck

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors"
)

const defaultTimeout = 10 * time.Second

// New returns an Executor for nyxmon.KindTCP.
func New() executors.Executor {
	return executors.ExecutorFunc(func(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
		cfg := parseConfig(check.Data)

		ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
		defer cancel()

		dialer := &net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", check.Target)
		if err != nil {
			if ctx.Err() != nil {
				return executors.ErrorResult(check.ID, "timeout", err.Error(), nil), nil
			}
			return executors.ErrorResult(check.ID, "connection_error", err.Error(), nil), nil
		}
		defer conn.Close()

		if !cfg.tls {
			return executors.OKResult(check.ID, nil), nil
		}

		if cfg.starttlsCommand != "" {
			if err := sendStartTLS(conn, cfg.starttlsCommand); err != nil {
				return executors.ErrorResult(check.ID, "connection_error", err.Error(), nil), nil
			}
		}

		host, _, _ := net.SplitHostPort(check.Target)
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return executors.ErrorResult(check.ID, "tls_handshake_error", err.Error(), nil), nil
		}
		defer tlsConn.Close()

		if cfg.checkCertExpiry {
			certs := tlsConn.ConnectionState().PeerCertificates
			if len(certs) == 0 {
				return executors.ErrorResult(check.ID, "tls_handshake_error", "no peer certificates presented", nil), nil
			}
			remaining := time.Until(certs[0].NotAfter)
			if remaining < time.Duration(cfg.minCertDays)*24*time.Hour {
				return executors.OKResult(check.ID, map[string]any{
					"severity":           "warning",
					"error_type":         "cert_expiry",
					"remaining_days":     int(remaining.Hours() / 24),
					"certificate_not_after": certs[0].NotAfter,
				}), nil
			}
		}

		return executors.OKResult(check.ID, nil), nil
	})
}

type config struct {
	tls             bool
	starttlsCommand string
	checkCertExpiry bool
	minCertDays     int
}

func parseConfig(data map[string]any) config {
	cfg := config{minCertDays: 14}
	if v, ok := data["tls"].(bool); ok {
		cfg.tls = v
	}
	if v, ok := data["starttls_command"].(string); ok {
		cfg.starttlsCommand = v
	}
	if v, ok := data["check_cert_expiry"].(bool); ok {
		cfg.checkCertExpiry = v
	}
	if v, ok := data["min_cert_days"].(float64); ok {
		cfg.minCertDays = int(v)
	}
	return cfg
}

func sendStartTLS(conn net.Conn, command string) error {
	if _, err := conn.Write([]byte(command + "\r\n")); err != nil {
		return fmt.Errorf("starttls command: %w", err)
	}
	buf := make([]byte, 512)
	_, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("starttls response: %w", err)
	}
	return nil
}
