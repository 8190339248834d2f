// Package smtpcheck implements the "smtp" executor kind: connect, start
// TLS, authenticate, and send a canary message whose subject proves the
// round trip actually happened. Grounded in the teacher package's
// checks/smtp, which wraps a *smtp.Client and calls client.Noop; this
// kind drives the same client through a full send instead of a no-op
// liveness ping, since the spec requires proof of delivery capability,
// not just connectivity.
package smtpcheck

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors"
)

const defaultTimeout = 15 * time.Second

// defaultRetryDelay is used when a check sets "retries" > 0 but omits
// "retry_delay".
const defaultRetryDelay = time.Second

// New returns an Executor for nyxmon.KindSMTP. Retry behavior is
// per-check, not fixed at registration: check.Data["retries"] and
// check.Data["retry_delay"] (seconds) are read fresh on every
// execution, so two checks of the same kind can carry different retry
// policies (spec.md §8 scenario 5; retries=0 ⇒ exactly one attempt).
// Retries only apply to the kind's own transient-error policy: 4xx
// SMTP replies except 421 (service not available, closing transmission
// channel), which most relays send right before dropping the
// connection under load shedding and is better treated as a hard
// failure than chased with more connection attempts.
func New() executors.Executor {
	return executors.ExecutorFunc(func(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
		attempts, delay := retryConfig(check.Data)
		return executors.WithRetry(executors.ExecutorFunc(execute), attempts, delay, isTransient).Execute(ctx, check)
	})
}

func retryConfig(data map[string]any) (attempts int, delay time.Duration) {
	attempts = 1
	if v, ok := data["retries"].(float64); ok && v > 0 {
		attempts = 1 + int(v)
	}
	delay = defaultRetryDelay
	if v, ok := data["retry_delay"].(float64); ok && v >= 0 {
		delay = time.Duration(v * float64(time.Second))
	}
	return attempts, delay
}

func execute(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
	cfg, err := parseConfig(check.Data)
	if err != nil {
		return executors.ErrorResult(check.ID, "configuration_error", err.Error(), nil), nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", check.Target)
	if err != nil {
		return classifyDialError(check.ID, ctx, err), nil
	}

	host, _, _ := net.SplitHostPort(check.Target)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return executors.ErrorResult(check.ID, "connection_error", err.Error(), nil), nil
	}
	defer client.Close()

	if cfg.tls {
		if err := client.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return executors.ErrorResult(check.ID, "tls_handshake_error", err.Error(), nil), nil
		}
	}

	if cfg.username != "" {
		auth := smtp.PlainAuth("", cfg.username, cfg.password, host)
		if err := client.Auth(auth); err != nil {
			return classifySMTPError(check.ID, err), nil
		}
	}

	subject, err := buildSubject(cfg.subjectPrefix)
	if err != nil {
		return executors.ErrorResult(check.ID, "configuration_error", err.Error(), nil), nil
	}

	if err := sendCanary(client, cfg, subject); err != nil {
		return classifySMTPError(check.ID, err), nil
	}

	return executors.OKResult(check.ID, map[string]any{"subject": subject}), nil
}

type config struct {
	tls           bool
	username      string
	password      string
	from          string
	to            string
	subjectPrefix string
}

func parseConfig(data map[string]any) (config, error) {
	cfg := config{subjectPrefix: "nyxmon-canary"}
	if v, ok := data["tls"].(bool); ok {
		cfg.tls = v
	}
	cfg.username, _ = data["username"].(string)
	cfg.password, _ = data["password"].(string)
	cfg.from, _ = data["from"].(string)
	cfg.to, _ = data["to"].(string)
	if v, ok := data["subject_prefix"].(string); ok && v != "" {
		cfg.subjectPrefix = v
	}
	if cfg.from == "" || cfg.to == "" {
		return cfg, fmt.Errorf("smtp check requires both \"from\" and \"to\" addresses")
	}
	return cfg, nil
}

// buildSubject formats "<prefix> <UTC-ISO-timestamp> <6-char-token>" so
// an operator can correlate the probe in mailbox logs to a single run.
func buildSubject(prefix string) (string, error) {
	token := make([]byte, 3)
	if _, err := rand.Read(token); err != nil {
		return "", fmt.Errorf("generate canary token: %w", err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339)
	return fmt.Sprintf("%s %s %s", prefix, timestamp, hex.EncodeToString(token)), nil
}

func sendCanary(client *smtp.Client, cfg config, subject string) error {
	if err := client.Mail(cfg.from); err != nil {
		return err
	}
	if err := client.Rcpt(cfg.to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\nnyxmon liveness probe\r\n", cfg.from, cfg.to, subject)
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	return w.Close()
}

func classifyDialError(checkID string, ctx context.Context, err error) *nyxmon.Result {
	if ctx.Err() != nil {
		return executors.ErrorResult(checkID, "timeout", err.Error(), nil)
	}
	return executors.ErrorResult(checkID, "connection_error", err.Error(), nil)
}

func classifySMTPError(checkID string, err error) *nyxmon.Result {
	if code, ok := smtpReplyCode(err); ok {
		return executors.ErrorResult(checkID, "smtp_error", err.Error(), map[string]any{"reply_code": code})
	}
	return executors.ErrorResult(checkID, "connection_error", err.Error(), nil)
}

// smtpReplyCode extracts a leading 3-digit SMTP reply code from a
// net/smtp textproto.Error-shaped message ("421 4.3.2 ...").
func smtpReplyCode(err error) (int, bool) {
	msg := err.Error()
	fields := strings.Fields(msg)
	if len(fields) == 0 {
		return 0, false
	}
	code, parseErr := strconv.Atoi(fields[0])
	if parseErr != nil || code < 100 || code > 599 {
		return 0, false
	}
	return code, true
}

// isTransient retries 4xx replies except 421, which signals the server
// is already closing the connection rather than asking the client to
// back off and retry the same session.
func isTransient(result *nyxmon.Result) bool {
	if result.Status == nyxmon.ResultOK {
		return false
	}
	code, ok := result.Payload["reply_code"].(int)
	if !ok {
		return false
	}
	return code >= 400 && code < 500 && code != 421
}
