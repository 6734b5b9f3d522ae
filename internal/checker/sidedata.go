package checker

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/sirupsen/logrus"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// hostOf extracts the bare hostname from a monitor target, which may be a
// full URL, a host:port pair, or a plain host.
func hostOf(target string) string {
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil {
			return u.Hostname()
		}
	}
	if host, _, err := net.SplitHostPort(target); err == nil {
		return host
	}
	return target
}

// resolveIPs answers the A/AAAA lookup for host. Best-effort; a failed lookup
// returns nil.
func resolveIPs(ctx context.Context, host string) []string {
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil
	}
	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.String())
	}
	return ips
}

// collectDomainInfo gathers DNS and WHOIS data for host. All failures are
// logged at debug and swallowed; side-data never changes a check's status.
func collectDomainInfo(host string, whoisTimeout time.Duration, logger *logrus.Logger) *monitor.DomainInfo {
	info := &monitor.DomainInfo{Domain: host}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info.ResolvedIPs = resolveIPs(ctx, host)

	if whoisTimeout <= 0 {
		whoisTimeout = 10 * time.Second
	}
	client := whois.NewClient()
	client.SetTimeout(whoisTimeout)

	raw, err := client.Whois(registrableDomain(host))
	if err != nil {
		logger.WithField("domain", host).WithError(err).Debug("whois lookup failed")
		return info
	}
	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		logger.WithField("domain", host).WithError(err).Debug("whois parse failed")
		return info
	}
	if parsed.Registrar != nil {
		info.Registrar = parsed.Registrar.Name
	}
	if parsed.Domain != nil && parsed.Domain.ExpirationDateInTime != nil {
		t := parsed.Domain.ExpirationDateInTime.UTC()
		info.WhoisExpiry = &t
	}
	return info
}

// registrableDomain trims a hostname down to its last two labels, which is
// what WHOIS servers answer for. Good enough for common TLDs; multi-label
// public suffixes fall back to the full host.
func registrableDomain(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
