// Package checker implements the per-protocol probe strategies. A checker
// never returns an error: every failure mode (network, protocol, validation)
// is captured into the CheckResult so the scheduler needs no per-protocol
// exception handling.
package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// Checker executes one probe against one monitor target. Implementations are
// bounded by the monitor's timeout via context deadlines and hard I/O
// deadlines in the protocol layer.
type Checker interface {
	Check(ctx context.Context, m *monitor.Monitor) *monitor.CheckResult
}

// Config carries shared checker settings.
type Config struct {
	UserAgent       string
	CertWarningDays int
	PingPrivileged  bool
	WhoisTimeout    time.Duration
}

// Runner dispatches probes to the protocol strategy matching the monitor's
// type.
type Runner struct {
	http  *HTTPChecker
	tcp   *TCPChecker
	ping  *PingChecker
	kafka *KafkaChecker
}

// NewRunner creates a probe runner with all protocol strategies registered.
func NewRunner(cfg Config, logger *logrus.Logger) *Runner {
	return &Runner{
		http:  NewHTTPChecker(cfg, logger),
		tcp:   NewTCPChecker(cfg, logger),
		ping:  NewPingChecker(cfg, logger),
		kafka: NewKafkaChecker(cfg, logger),
	}
}

// Check runs one probe for the monitor. An unrecognized type yields an
// unknown result rather than an error.
func (r *Runner) Check(ctx context.Context, m *monitor.Monitor) *monitor.CheckResult {
	switch m.Type {
	case monitor.TypeHTTP, monitor.TypeHTTPS:
		return r.http.Check(ctx, m)
	case monitor.TypeTCP:
		return r.tcp.Check(ctx, m)
	case monitor.TypePing:
		return r.ping.Check(ctx, m)
	case monitor.TypeKafka:
		return r.kafka.Check(ctx, m)
	default:
		return unknownResult(fmt.Sprintf("unsupported monitor type: %s", m.Type))
	}
}

func downResult(errMsg string) *monitor.CheckResult {
	return &monitor.CheckResult{
		Status:       monitor.StatusDown,
		ErrorMessage: &errMsg,
		CheckedAt:    time.Now().UTC(),
	}
}

func unknownResult(errMsg string) *monitor.CheckResult {
	return &monitor.CheckResult{
		Status:       monitor.StatusUnknown,
		ErrorMessage: &errMsg,
		CheckedAt:    time.Now().UTC(),
	}
}

// ExecutionError builds the synthetic down result the scheduler records when
// the execution path itself fails, so the schedule never halts on an
// unexpected error.
func ExecutionError(detail string) *monitor.CheckResult {
	msg := "execution error: " + detail
	return &monitor.CheckResult{
		Status:       monitor.StatusDown,
		ErrorMessage: &msg,
		CheckedAt:    time.Now().UTC(),
	}
}

// elapsedMS converts a wall-clock duration to milliseconds, rounded to two
// decimals at this edge only.
func elapsedMS(d time.Duration) *float64 {
	ms := monitor.RoundMS(float64(d.Nanoseconds()) / 1e6)
	return &ms
}
