package checker

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/sirupsen/logrus"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// PingChecker probes a target with ICMP echo requests. It runs unprivileged
// (UDP datagram sockets) by default; privileged mode uses raw sockets and
// needs CAP_NET_RAW.
type PingChecker struct {
	cfg    Config
	logger *logrus.Logger
}

// NewPingChecker creates an ICMP checker.
func NewPingChecker(cfg Config, logger *logrus.Logger) *PingChecker {
	return &PingChecker{cfg: cfg, logger: logger}
}

// Check sends the configured number of echo requests and reports up when at
// least one reply arrives. Latency is the average round-trip time.
func (c *PingChecker) Check(ctx context.Context, m *monitor.Monitor) *monitor.CheckResult {
	pinger, err := probing.NewPinger(hostOf(m.Target))
	if err != nil {
		return downResult(fmt.Sprintf("ping setup failed: %v", err))
	}

	count := 1
	privileged := c.cfg.PingPrivileged
	if m.Ping != nil {
		if m.Ping.PacketCount > 0 {
			count = m.Ping.PacketCount
		}
		if m.Ping.Privileged {
			privileged = true
		}
	}
	pinger.Count = count
	pinger.Timeout = m.Timeout()
	pinger.SetPrivileged(privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return downResult(fmt.Sprintf("ping failed: %v", err))
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return downResult(fmt.Sprintf("no reply from %s after %d packets", m.Target, count))
	}

	ms := monitor.RoundMS(float64(stats.AvgRtt.Nanoseconds()) / 1e6)
	extra := &monitor.ExtraData{
		Fields: map[string]string{
			"packets_sent": fmt.Sprintf("%d", stats.PacketsSent),
			"packets_recv": fmt.Sprintf("%d", stats.PacketsRecv),
			"packet_loss":  fmt.Sprintf("%.1f", stats.PacketLoss),
		},
	}
	return &monitor.CheckResult{
		Status:         monitor.StatusUp,
		ResponseTimeMS: &ms,
		Extra:          extra,
		CheckedAt:      time.Now().UTC(),
	}
}
