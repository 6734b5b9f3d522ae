package checker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// TCPChecker probes a target by opening and immediately closing a TCP
// connection. Latency covers the full dial including DNS resolution.
type TCPChecker struct {
	cfg    Config
	logger *logrus.Logger
}

// NewTCPChecker creates a TCP connect checker.
func NewTCPChecker(cfg Config, logger *logrus.Logger) *TCPChecker {
	return &TCPChecker{cfg: cfg, logger: logger}
}

// Check dials the target once within the monitor's timeout.
func (c *TCPChecker) Check(ctx context.Context, m *monitor.Monitor) *monitor.CheckResult {
	if m.Port <= 0 {
		return downResult("tcp check requires a port")
	}
	addr := net.JoinHostPort(hostOf(m.Target), fmt.Sprintf("%d", m.Port))

	dialer := &net.Dialer{Timeout: m.Timeout()}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		res := downResult(fmt.Sprintf("connection failed: %v", err))
		res.Extra = c.sideData(ctx, m)
		return res
	}
	conn.Close()

	return &monitor.CheckResult{
		Status:         monitor.StatusUp,
		ResponseTimeMS: elapsedMS(elapsed),
		Extra:          c.sideData(ctx, m),
		CheckedAt:      time.Now().UTC(),
	}
}

func (c *TCPChecker) sideData(ctx context.Context, m *monitor.Monitor) *monitor.ExtraData {
	if m.TCP == nil || !m.TCP.CollectDNS {
		return nil
	}
	host := hostOf(m.Target)
	ips := resolveIPs(ctx, host)
	if len(ips) == 0 {
		return nil
	}
	return &monitor.ExtraData{
		DomainInfo: &monitor.DomainInfo{Domain: host, ResolvedIPs: ips},
	}
}
