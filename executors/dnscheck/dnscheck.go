// Package dnscheck implements the "dns" executor kind. Unlike the
// teacher package's checks/dns (a thin net.Resolver.LookupHost wrapper),
// this kind needs a configurable resolver address, a query type, and an
// optional bound source IP, none of which net.Resolver exposes, so it
// builds and sends the query itself via github.com/miekg/dns.
package dnscheck

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors"
)

const defaultTimeout = 5 * time.Second

// New returns an Executor for nyxmon.KindDNS.
func New() executors.Executor {
	return executors.ExecutorFunc(func(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
		cfg, err := parseConfig(check)
		if err != nil {
			return executors.ErrorResult(check.ID, "configuration_error", err.Error(), nil), nil
		}

		client := &dns.Client{
			Timeout: defaultTimeout,
			Net:     "udp",
		}
		if cfg.sourceIP != nil {
			client.Dialer = &net.Dialer{
				LocalAddr: &net.UDPAddr{IP: cfg.sourceIP},
			}
		}

		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(check.Target), cfg.queryType)

		resolverAddr := net.JoinHostPort(cfg.resolver, "53")

		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
			defer cancel()
			deadline, _ = ctx.Deadline()
		}
		client.Timeout = time.Until(deadline)

		resp, _, err := client.ExchangeContext(ctx, msg, resolverAddr)
		if err != nil {
			if cfg.sourceIP != nil && isBindError(err) {
				return executors.ErrorResult(check.ID, "source_bind_failed", err.Error(), nil), nil
			}
			if ctx.Err() != nil {
				return executors.ErrorResult(check.ID, "timeout", err.Error(), nil), nil
			}
			return executors.ErrorResult(check.ID, "resolution_mismatch", err.Error(), nil), nil
		}

		if resp.Rcode == dns.RcodeNameError {
			return executors.ErrorResult(check.ID, "nxdomain", "name does not exist", nil), nil
		}
		if len(resp.Answer) == 0 {
			return executors.ErrorResult(check.ID, "no_answer", "no answer records returned", nil), nil
		}

		resolved := resolvedAddresses(resp.Answer)

		if len(cfg.expectedIPs) > 0 {
			if !matchesExpected(resp.Answer, cfg.expectedIPs) {
				return executors.ErrorResult(check.ID, "resolution_mismatch", "resolved addresses do not match expected_ips",
					map[string]any{"resolved_ips": resolved, "expected_ips": cfg.expectedIPs}), nil
			}
		}

		payload := map[string]any{
			"resolved_ips": resolved,
			"dns_server":   cfg.resolver,
		}
		if cfg.sourceIP != nil {
			payload["source_address"] = cfg.sourceIP.String()
		}
		return executors.OKResult(check.ID, payload), nil
	})
}

type config struct {
	resolver    string
	queryType   uint16
	sourceIP    net.IP
	expectedIPs []string
}

func parseConfig(check *nyxmon.Check) (config, error) {
	cfg := config{resolver: "8.8.8.8", queryType: dns.TypeA}

	if v, ok := check.Data["dns_server"].(string); ok && v != "" {
		cfg.resolver = v
	}
	if v, ok := check.Data["query_type"].(string); ok && v != "" {
		qt, ok := dns.StringToType[v]
		if !ok {
			return cfg, fmt.Errorf("unknown query_type %q", v)
		}
		cfg.queryType = qt
	}
	if v, ok := check.Data["source_ip"].(string); ok && v != "" {
		ip := net.ParseIP(v)
		if ip == nil {
			return cfg, fmt.Errorf("invalid source_ip %q", v)
		}
		cfg.sourceIP = ip
	}
	if raw, ok := check.Data["expected_ips"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return cfg, fmt.Errorf("expected_ips must be a list")
		}
		if len(list) == 0 {
			return cfg, fmt.Errorf("expected_ips was provided but empty")
		}
		for _, v := range list {
			s, ok := v.(string)
			if !ok {
				return cfg, fmt.Errorf("expected_ips entries must be strings")
			}
			cfg.expectedIPs = append(cfg.expectedIPs, s)
		}
	}
	return cfg, nil
}

// resolvedAddresses extracts the bare address from each A/AAAA answer
// record; other record types (e.g. CNAME) are skipped since the spec's
// resolved_ips payload reports addresses, not the full record chain.
func resolvedAddresses(answers []dns.RR) []string {
	resolved := make([]string, 0, len(answers))
	for _, rr := range answers {
		switch a := rr.(type) {
		case *dns.A:
			resolved = append(resolved, a.A.String())
		case *dns.AAAA:
			resolved = append(resolved, a.AAAA.String())
		}
	}
	return resolved
}

func matchesExpected(answers []dns.RR, expected []string) bool {
	want := make(map[string]bool, len(expected))
	for _, ip := range expected {
		want[ip] = true
	}
	for _, rr := range answers {
		var ip string
		switch a := rr.(type) {
		case *dns.A:
			ip = a.A.String()
		case *dns.AAAA:
			ip = a.AAAA.String()
		default:
			continue
		}
		if want[ip] {
			return true
		}
	}
	return false
}

func isBindError(err error) bool {
	var opErr *net.OpError
	return asOpError(err, &opErr) && opErr.Op == "dial"
}

func asOpError(err error, target **net.OpError) bool {
	for err != nil {
		if opErr, ok := err.(*net.OpError); ok {
			*target = opErr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
