package checker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// maxBodyBytes bounds how much of a response body is read for content checks.
const maxBodyBytes = 1 << 20

// HTTPChecker probes HTTP and HTTPS targets and applies the configured
// validations in order: domain match, certificate expiration, status-code
// set, response-time threshold, body content. The first failing validation
// determines the error message.
type HTTPChecker struct {
	cfg    Config
	logger *logrus.Logger
}

// NewHTTPChecker creates an HTTP/HTTPS checker.
func NewHTTPChecker(cfg Config, logger *logrus.Logger) *HTTPChecker {
	return &HTTPChecker{cfg: cfg, logger: logger}
}

// Check issues the configured request and evaluates the validation chain.
func (c *HTTPChecker) Check(ctx context.Context, m *monitor.Monitor) *monitor.CheckResult {
	opts := m.HTTP
	if opts == nil {
		opts = &monitor.HTTPOptions{}
	}

	client, err := c.buildClient(m, opts)
	if err != nil {
		return downResult(err.Error())
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if opts.Body != "" {
		bodyReader = strings.NewReader(opts.Body)
	}

	ctx, cancel := context.WithTimeout(ctx, m.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, targetURL(m), bodyReader)
	if err != nil {
		return downResult(fmt.Sprintf("invalid request: %v", err))
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		res := downResult(fmt.Sprintf("request failed: %v", err))
		res.Extra = c.collectSideData(m, opts, nil)
		return res
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if readErr != nil {
		body = nil
	}

	code := resp.StatusCode
	latency := elapsedMS(elapsed)
	extra := c.collectSideData(m, opts, resp)

	result := &monitor.CheckResult{
		Status:         monitor.StatusUp,
		ResponseTimeMS: latency,
		StatusCode:     &code,
		Extra:          extra,
		CheckedAt:      time.Now().UTC(),
	}

	// Domain mismatch is terminal: it indicates the response came from the
	// wrong endpoint, so the remaining validations are not meaningful.
	if opts.CheckDomain && opts.ExpectedDomain != "" {
		finalHost := resp.Request.URL.Hostname()
		if !strings.EqualFold(finalHost, opts.ExpectedDomain) {
			msg := fmt.Sprintf("domain mismatch: expected %s, got %s", opts.ExpectedDomain, finalHost)
			result.Status = monitor.StatusDown
			result.ErrorMessage = &msg
			return result
		}
	}

	var failure string

	if m.Type == monitor.TypeHTTPS && opts.CheckCertExpiry && extra != nil && extra.CertInfo != nil {
		warnDays := opts.CertWarningDays
		if warnDays <= 0 {
			warnDays = c.cfg.CertWarningDays
		}
		if extra.CertInfo.DaysToExpiry <= warnDays {
			failure = fmt.Sprintf("certificate expiring in %d days", extra.CertInfo.DaysToExpiry)
			extra.SSLWarning = true
		}
	}

	if failure == "" && len(opts.AcceptedStatusCodes) > 0 && !containsInt(opts.AcceptedStatusCodes, code) {
		failure = fmt.Sprintf("unexpected status code %d", code)
	}

	if failure == "" && opts.MaxResponseTimeMS > 0 && *latency > opts.MaxResponseTimeMS {
		failure = fmt.Sprintf("response time %.2fms exceeded threshold %.2fms", *latency, opts.MaxResponseTimeMS)
	}

	if failure == "" {
		failure = checkContent(opts, body)
	}

	if failure != "" {
		result.Status = monitor.StatusDown
		result.ErrorMessage = &failure
	}
	return result
}

// buildClient constructs the per-monitor HTTP client with TLS settings and
// optional client certificate.
func (c *HTTPChecker) buildClient(m *monitor.Monitor, opts *monitor.HTTPOptions) (*http.Client, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: opts.TLSSkipVerify,
	}
	if opts.ClientCertPEM != "" && opts.ClientKeyPEM != "" {
		cert, err := tls.X509KeyPair([]byte(opts.ClientCertPEM), []byte(opts.ClientKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("invalid client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return &http.Client{
		Timeout: m.Timeout(),
		Transport: &http.Transport{
			TLSClientConfig:   tlsConfig,
			DisableKeepAlives: true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, nil
}

// collectSideData gathers TLS certificate details plus best-effort DNS and
// WHOIS information. Failures here never affect the check status.
func (c *HTTPChecker) collectSideData(m *monitor.Monitor, opts *monitor.HTTPOptions, resp *http.Response) *monitor.ExtraData {
	extra := &monitor.ExtraData{}

	if resp != nil {
		if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
			extra.CertInfo = certInfoFromState(resp.Request.URL.Hostname(), resp.TLS)
		}
		headers := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}
		extra.ResponseHeaders = headers
	}

	host := hostOf(m.Target)
	if opts.CollectDomainInfo && host != "" {
		extra.DomainInfo = collectDomainInfo(host, c.cfg.WhoisTimeout, c.logger)
	}

	if extra.CertInfo == nil && extra.DomainInfo == nil && extra.ResponseHeaders == nil {
		return nil
	}
	return extra
}

func certInfoFromState(host string, state *tls.ConnectionState) *monitor.CertificateInfo {
	leaf := state.PeerCertificates[0]
	return &monitor.CertificateInfo{
		Domain:       host,
		Issuer:       leaf.Issuer.String(),
		Subject:      leaf.Subject.String(),
		SerialNumber: leaf.SerialNumber.String(),
		NotBefore:    leaf.NotBefore.UTC(),
		NotAfter:     leaf.NotAfter.UTC(),
		DaysToExpiry: monitor.DaysToExpiry(leaf.NotAfter, time.Now()),
	}
}

// checkContent applies the configured body rule. An empty rule passes.
func checkContent(opts *monitor.HTTPOptions, body []byte) string {
	if opts.ContentRule == monitor.ContentRuleNone || opts.ContentPattern == "" {
		return ""
	}
	text := string(body)

	switch opts.ContentRule {
	case monitor.ContentRuleContains:
		if !strings.Contains(text, opts.ContentPattern) {
			return fmt.Sprintf("response body does not contain %q", opts.ContentPattern)
		}
	case monitor.ContentRuleNotContains:
		if strings.Contains(text, opts.ContentPattern) {
			return fmt.Sprintf("response body contains forbidden %q", opts.ContentPattern)
		}
	case monitor.ContentRuleRegex:
		re, err := regexp.Compile(opts.ContentPattern)
		if err != nil {
			return fmt.Sprintf("invalid content regex: %v", err)
		}
		if !re.Match(body) {
			return fmt.Sprintf("response body does not match /%s/", opts.ContentPattern)
		}
	case monitor.ContentRuleJSONPath:
		value := gjson.GetBytes(body, opts.ContentPattern)
		if !value.Exists() {
			return fmt.Sprintf("JSON path %q not found in response", opts.ContentPattern)
		}
		if opts.JSONPathExpected != "" && value.String() != opts.JSONPathExpected {
			return fmt.Sprintf("JSON path %q is %q, expected %q",
				opts.ContentPattern, value.String(), opts.JSONPathExpected)
		}
	}
	return ""
}

// targetURL returns the monitor target as a full URL, applying the scheme
// implied by the monitor type when the target omits one.
func targetURL(m *monitor.Monitor) string {
	t := m.Target
	if strings.Contains(t, "://") {
		return t
	}
	scheme := "http"
	if m.Type == monitor.TypeHTTPS {
		scheme = "https"
	}
	if m.Port > 0 {
		return fmt.Sprintf("%s://%s:%d", scheme, t, m.Port)
	}
	return fmt.Sprintf("%s://%s", scheme, t)
}

func containsInt(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
