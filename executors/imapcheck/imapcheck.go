// Package imapcheck implements the "imap" executor kind: connect,
// optionally negotiate TLS, log in, select a mailbox, and search for
// messages matching a subject substring within a recent internal-date
// window — optionally deleting and expunging matches afterward so a
// canary mailbox does not grow without bound. Grounded in the teacher
// package's checks/imap, which dials a *client.Client and inspects
// c.State(); this kind drives the same client through Login/Select/
// Search instead of a bare connection-state check.
package imapcheck

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors"
)

const defaultTimeout = 15 * time.Second

// New returns an Executor for nyxmon.KindIMAP.
func New() executors.Executor {
	return executors.ExecutorFunc(func(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
		cfg, err := parseConfig(check.Data)
		if err != nil {
			return executors.ErrorResult(check.ID, "configuration_error", err.Error(), nil), nil
		}

		done := make(chan struct{})
		var result *nyxmon.Result
		go func() {
			defer close(done)
			result = runIMAP(check, cfg)
		}()

		select {
		case <-done:
			return result, nil
		case <-ctx.Done():
			return executors.ErrorResult(check.ID, "timeout", "imap check did not complete before the deadline", nil), nil
		}
	})
}

type config struct {
	tls         bool
	username    string
	password    string
	mailbox     string
	subject     string
	maxAge      time.Duration
	deleteAfter bool
}

func parseConfig(data map[string]any) (config, error) {
	cfg := config{mailbox: "INBOX", maxAge: time.Hour}
	if v, ok := data["tls"].(bool); ok {
		cfg.tls = v
	}
	cfg.username, _ = data["username"].(string)
	cfg.password, _ = data["password"].(string)
	if v, ok := data["mailbox"].(string); ok && v != "" {
		cfg.mailbox = v
	}
	cfg.subject, _ = data["search_subject"].(string)
	if v, ok := data["max_age_minutes"].(float64); ok && v > 0 {
		cfg.maxAge = time.Duration(v * float64(time.Minute))
	}
	if v, ok := data["delete_after_check"].(bool); ok {
		cfg.deleteAfter = v
	}
	if cfg.username == "" || cfg.password == "" {
		return cfg, fmt.Errorf("imap check requires username and password")
	}
	if cfg.subject == "" {
		return cfg, fmt.Errorf("imap check requires search_subject")
	}
	return cfg, nil
}

func runIMAP(check *nyxmon.Check, cfg config) *nyxmon.Result {
	var (
		c   *client.Client
		err error
	)
	if cfg.tls {
		c, err = client.DialTLS(check.Target, &tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		c, err = client.Dial(check.Target)
	}
	if err != nil {
		return executors.ErrorResult(check.ID, "connection_error", err.Error(), nil)
	}
	defer c.Logout()

	if err := c.Login(cfg.username, cfg.password); err != nil {
		return executors.ErrorResult(check.ID, "auth_error", err.Error(), nil)
	}

	if _, err := c.Select(cfg.mailbox, false); err != nil {
		return executors.ErrorResult(check.ID, "mailbox_error", err.Error(), nil)
	}

	// Subject search values are quoted by the go-imap encoder; a raw
	// substring like `foo"bar` is escaped automatically, matching the
	// spec's requirement to quote search terms.
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Subject", cfg.subject)
	criteria.Since = time.Now().Add(-cfg.maxAge)
	criteria.WithoutFlags = []string{imap.DeletedFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return executors.ErrorResult(check.ID, "search_error", err.Error(), nil)
	}
	if len(uids) == 0 {
		return executors.ErrorResult(check.ID, "no_recent_message", "no messages matched the search criteria within the age window", nil)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	latest, err := latestInternalDate(c, seqSet)
	if err != nil {
		return executors.ErrorResult(check.ID, "search_error", err.Error(), nil)
	}

	if cfg.deleteAfter {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		flags := []any{imap.DeletedFlag}
		if err := c.UidStore(seqSet, item, flags, nil); err != nil {
			return executors.ErrorResult(check.ID, "delete_error", err.Error(), nil)
		}
		if err := c.Expunge(nil); err != nil {
			return executors.ErrorResult(check.ID, "delete_error", err.Error(), nil)
		}
	}

	return executors.OKResult(check.ID, map[string]any{
		"matched_uids":        uids,
		"latest_internaldate": latest.UTC().Format(time.RFC3339),
	})
}

// latestInternalDate fetches each matched message's internal date and
// returns the newest one, for the latest_internaldate payload field.
func latestInternalDate(c *client.Client, seqSet *imap.SeqSet) (time.Time, error) {
	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, []imap.FetchItem{imap.FetchInternalDate}, messages)
	}()

	var latest time.Time
	for msg := range messages {
		if msg.InternalDate.After(latest) {
			latest = msg.InternalDate
		}
	}
	if err := <-done; err != nil {
		return time.Time{}, err
	}
	return latest, nil
}
