package checker

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

func tcpMonitor(host string, port int) *monitor.Monitor {
	return &monitor.Monitor{
		ID:              "mon-tcp",
		Name:            "db",
		Type:            monitor.TypeTCP,
		Target:          host,
		Port:            port,
		IntervalSeconds: 60,
		TimeoutSeconds:  2,
		Active:          true,
		TCP:             &monitor.TCPOptions{},
	}
}

func TestTCPCheckerConnect(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewTCPChecker(testConfig(), testLogger())

	t.Run("open port is up", func(t *testing.T) {
		result := c.Check(context.Background(), tcpMonitor("127.0.0.1", port))
		assert.Equal(t, monitor.StatusUp, result.Status)
		require.NotNil(t, result.ResponseTimeMS)
		assert.GreaterOrEqual(t, *result.ResponseTimeMS, 0.0)
		assert.Nil(t, result.ErrorMessage)
	})

	t.Run("closed port is down", func(t *testing.T) {
		result := c.Check(context.Background(), tcpMonitor("127.0.0.1", 1))
		assert.Equal(t, monitor.StatusDown, result.Status)
		require.NotNil(t, result.ErrorMessage)
		assert.Contains(t, *result.ErrorMessage, "connection failed")
	})

	t.Run("missing port is down", func(t *testing.T) {
		result := c.Check(context.Background(), tcpMonitor("127.0.0.1", 0))
		assert.Equal(t, monitor.StatusDown, result.Status)
		require.NotNil(t, result.ErrorMessage)
		assert.Contains(t, *result.ErrorMessage, "requires a port")
	})
}

func TestTCPCheckerDNSSideData(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	_, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	c := NewTCPChecker(testConfig(), testLogger())
	m := tcpMonitor("localhost", port)
	m.TCP.CollectDNS = true

	result := c.Check(context.Background(), m)
	assert.Equal(t, monitor.StatusUp, result.Status)
	require.NotNil(t, result.Extra)
	require.NotNil(t, result.Extra.DomainInfo)
	assert.Equal(t, "localhost", result.Extra.DomainInfo.Domain)
	assert.NotEmpty(t, result.Extra.DomainInfo.ResolvedIPs)
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		target string
		expect string
	}{
		{"example.com", "example.com"},
		{"example.com:5432", "example.com"},
		{"https://example.com/health", "example.com"},
		{"https://example.com:8443/health", "example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expect, hostOf(tt.target), "target %q", tt.target)
	}
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "example.com", registrableDomain("www.api.example.com"))
	assert.Equal(t, "example.com", registrableDomain("example.com"))
	assert.Equal(t, "localhost", registrableDomain("localhost"))
}
