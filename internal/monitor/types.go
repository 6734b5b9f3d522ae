package monitor

import (
	"math"
	"time"
)

// Type identifies the protocol used to probe a monitor's target.
type Type string

const (
	TypeHTTP  Type = "http"
	TypeHTTPS Type = "https"
	TypeTCP   Type = "tcp"
	TypePing  Type = "ping"
	TypeKafka Type = "kafka"
)

// Status is the last known state of a monitor.
type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusUnknown Status = "unknown"
)

// ValidIntervals are the supported check cadences, in seconds.
var ValidIntervals = []int{30, 60, 300, 900, 1800, 3600}

// IsValidInterval reports whether seconds is one of the supported cadences.
func IsValidInterval(seconds int) bool {
	for _, v := range ValidIntervals {
		if v == seconds {
			return true
		}
	}
	return false
}

// Monitor is a configured, periodically probed target. Persistence is owned by
// the storage layer; the engine only reads and updates the status fields.
//
// Exactly one of HTTP, TCP, Ping or Kafka is set, matching Type.
type Monitor struct {
	ID               string     `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	Type             Type       `json:"type" db:"type"`
	Target           string     `json:"target" db:"target"`
	Port             int        `json:"port,omitempty" db:"port"`
	IntervalSeconds  int        `json:"interval_seconds" db:"interval_seconds"`
	TimeoutSeconds   int        `json:"timeout_seconds" db:"timeout_seconds"`
	Active           bool       `json:"active" db:"active"`
	LastStatus       Status     `json:"last_status" db:"last_status"`
	LastCheckAt      *time.Time `json:"last_check_at,omitempty" db:"last_check_at"`
	ConsecutiveFails int        `json:"consecutive_fails" db:"consecutive_fails"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`

	HTTP  *HTTPOptions  `json:"http,omitempty"`
	TCP   *TCPOptions   `json:"tcp,omitempty"`
	Ping  *PingOptions  `json:"ping,omitempty"`
	Kafka *KafkaOptions `json:"kafka,omitempty"`
}

// Interval returns the check cadence as a duration.
func (m *Monitor) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Timeout returns the per-probe deadline as a duration.
func (m *Monitor) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// ContentRule is the body validation applied to HTTP responses.
type ContentRule string

const (
	ContentRuleNone        ContentRule = ""
	ContentRuleContains    ContentRule = "contains"
	ContentRuleNotContains ContentRule = "not_contains"
	ContentRuleRegex       ContentRule = "regex"
	ContentRuleJSONPath    ContentRule = "json_path"
)

// HTTPOptions carries the HTTP/HTTPS-specific monitor configuration.
type HTTPOptions struct {
	Method              string            `json:"method,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	Body                string            `json:"body,omitempty"`
	AcceptedStatusCodes []int             `json:"accepted_status_codes,omitempty"`
	MaxResponseTimeMS   float64           `json:"max_response_time_ms,omitempty"`

	ContentRule    ContentRule `json:"content_rule,omitempty"`
	ContentPattern string      `json:"content_pattern,omitempty"`
	// JSONPathExpected is compared against the value selected by
	// ContentPattern when ContentRule is json_path.
	JSONPathExpected string `json:"json_path_expected,omitempty"`

	CheckDomain    bool   `json:"check_domain,omitempty"`
	ExpectedDomain string `json:"expected_domain,omitempty"`

	CheckCertExpiry bool `json:"check_cert_expiry,omitempty"`
	CertWarningDays int  `json:"cert_warning_days,omitempty"`

	TLSSkipVerify bool   `json:"tls_skip_verify,omitempty"`
	ClientCertPEM string `json:"client_cert_pem,omitempty"`
	ClientKeyPEM  string `json:"client_key_pem,omitempty"`

	CollectDomainInfo bool `json:"collect_domain_info,omitempty"`
}

// TCPOptions carries the TCP-specific monitor configuration.
type TCPOptions struct {
	CollectDNS bool `json:"collect_dns,omitempty"`
}

// PingOptions carries the ICMP-specific monitor configuration.
type PingOptions struct {
	PacketCount int  `json:"packet_count,omitempty"`
	Privileged  bool `json:"privileged,omitempty"`
}

// KafkaSecurityProtocol selects the transport security for broker connections.
type KafkaSecurityProtocol string

const (
	KafkaPlaintext     KafkaSecurityProtocol = "PLAINTEXT"
	KafkaSSL           KafkaSecurityProtocol = "SSL"
	KafkaSASLSSL       KafkaSecurityProtocol = "SASL_SSL"
	KafkaSASLPlaintext KafkaSecurityProtocol = "SASL_PLAINTEXT"
)

// KafkaSASLMechanism selects the SASL authentication mechanism.
type KafkaSASLMechanism string

const (
	KafkaSASLPlain       KafkaSASLMechanism = "PLAIN"
	KafkaSASLSCRAM256    KafkaSASLMechanism = "SCRAM-SHA-256"
	KafkaSASLSCRAM512    KafkaSASLMechanism = "SCRAM-SHA-512"
	KafkaSASLOAuthBearer KafkaSASLMechanism = "OAUTHBEARER"
)

// KafkaOptions carries the Kafka-specific monitor configuration. Only the base
// connectivity test decides overall status; the optional read/write/metadata
// steps report into ExtraData.
type KafkaOptions struct {
	SecurityProtocol KafkaSecurityProtocol `json:"security_protocol"`
	SASLMechanism    KafkaSASLMechanism    `json:"sasl_mechanism,omitempty"`
	Username         string                `json:"username,omitempty"`
	Password         string                `json:"password,omitempty"`

	// OAUTHBEARER client-credentials parameters.
	TokenEndpoint string   `json:"token_endpoint,omitempty"`
	ClientID      string   `json:"client_id,omitempty"`
	ClientSecret  string   `json:"client_secret,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`

	TLSSkipVerify   bool `json:"tls_skip_verify,omitempty"`
	CheckCertExpiry bool `json:"check_cert_expiry,omitempty"`
	CertWarningDays int  `json:"cert_warning_days,omitempty"`

	FetchMetadata bool   `json:"fetch_metadata,omitempty"`
	ReadTopic     string `json:"read_topic,omitempty"`
	ConsumerGroup string `json:"consumer_group,omitempty"`
	WriteTopic    string `json:"write_topic,omitempty"`
}

// CheckResult is the immutable outcome of a single probe.
type CheckResult struct {
	Status         Status     `json:"status"`
	ResponseTimeMS *float64   `json:"response_time_ms,omitempty"`
	StatusCode     *int       `json:"status_code,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	Extra          *ExtraData `json:"extra,omitempty"`
	CheckedAt      time.Time  `json:"checked_at"`
}

// CertificateInfo describes a TLS certificate observed during a check.
type CertificateInfo struct {
	Domain       string    `json:"domain"`
	Issuer       string    `json:"issuer"`
	Subject      string    `json:"subject"`
	SerialNumber string    `json:"serial_number"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	DaysToExpiry int       `json:"days_to_expiry"`
}

// DaysToExpiry computes full days remaining until notAfter, floored, so live
// checks and values re-derived from stored certificates agree.
func DaysToExpiry(notAfter, now time.Time) int {
	return int(math.Floor(notAfter.Sub(now).Seconds() / 86400))
}

// DomainInfo is best-effort DNS and WHOIS side-data for display purposes.
type DomainInfo struct {
	Domain      string     `json:"domain"`
	ResolvedIPs []string   `json:"resolved_ips,omitempty"`
	Registrar   string     `json:"registrar,omitempty"`
	WhoisExpiry *time.Time `json:"whois_expiry,omitempty"`
}

// KafkaInfo reports the optional Kafka step outcomes. A failed optional step
// is recorded here without flipping the overall status.
type KafkaInfo struct {
	BrokerCount int    `json:"broker_count,omitempty"`
	TopicCount  int    `json:"topic_count,omitempty"`
	MetadataOK  *bool  `json:"metadata_ok,omitempty"`
	MetadataErr string `json:"metadata_err,omitempty"`
	ReadOK      *bool  `json:"read_ok,omitempty"`
	ReadErr     string `json:"read_err,omitempty"`
	WriteOK     *bool  `json:"write_ok,omitempty"`
	WriteErr    string `json:"write_err,omitempty"`
}

// ExtraData is the structured, protocol-specific payload attached to a
// CheckResult. Cert and domain blobs are swapped for dedup references before
// persistence and rehydrated on read.
type ExtraData struct {
	CertInfo        *CertificateInfo  `json:"cert_info,omitempty"`
	DomainInfo      *DomainInfo       `json:"domain_check,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	Kafka           *KafkaInfo        `json:"kafka,omitempty"`
	SSLWarning      bool              `json:"ssl_warning,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
}

// Severity classifies an incident.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Incident is one continuous downtime period for a monitor. At most one
// incident per monitor has ResolvedAt == nil at any time.
type Incident struct {
	ID              string     `json:"id" db:"id"`
	MonitorID       string     `json:"monitor_id" db:"monitor_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Description     string     `json:"description" db:"description"`
	Severity        Severity   `json:"severity" db:"severity"`
}

// IsResolved reports whether the incident has ended.
func (i *Incident) IsResolved() bool {
	return i.ResolvedAt != nil
}

// ChannelType identifies a notification delivery mechanism.
type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelTelegram ChannelType = "telegram"
	ChannelSlack    ChannelType = "slack"
)

// Channel is a configured notification destination. Its lifecycle is owned by
// the CRUD layer; the dispatcher only reads it.
type Channel struct {
	ID     string                 `json:"id" db:"id"`
	Name   string                 `json:"name" db:"name"`
	Type   ChannelType            `json:"type" db:"type"`
	Config map[string]interface{} `json:"config" db:"config"`
	Active bool                   `json:"active" db:"active"`
}

// Subscription links a monitor to a channel with delivery rules.
type Subscription struct {
	ID        string   `json:"id" db:"id"`
	MonitorID string   `json:"monitor_id" db:"monitor_id"`
	Channel   *Channel `json:"channel"`

	NotifyOnDown       bool `json:"notify_on_down" db:"notify_on_down"`
	NotifyOnUp         bool `json:"notify_on_up" db:"notify_on_up"`
	NotifyOnSSLWarning bool `json:"notify_on_ssl_warning" db:"notify_on_ssl_warning"`

	// FailureThreshold is the consecutive-failure count required before the
	// first down alert fires.
	FailureThreshold int `json:"failure_threshold" db:"failure_threshold"`
	// EscalateAfterMinutes, when > 0, gates down alerts until the incident
	// has been open at least that long.
	EscalateAfterMinutes int `json:"escalate_after_minutes" db:"escalate_after_minutes"`
}

// EventType is the kind of status-change event that triggers notifications.
type EventType string

const (
	EventDown       EventType = "down"
	EventUp         EventType = "up"
	EventSSLWarning EventType = "ssl_warning"
)

// NotificationLog is one immutable record of a delivery attempt.
type NotificationLog struct {
	ID        string    `json:"id" db:"id"`
	MonitorID string    `json:"monitor_id" db:"monitor_id"`
	ChannelID string    `json:"channel_id" db:"channel_id"`
	Event     EventType `json:"event" db:"event"`
	Success   bool      `json:"success" db:"success"`
	Error     string    `json:"error,omitempty" db:"error"`
	SentAt    time.Time `json:"sent_at" db:"sent_at"`
}

// RoundMS rounds a millisecond measurement to two decimals. Applied at the
// edges only; internal math keeps full precision.
func RoundMS(ms float64) float64 {
	return math.Round(ms*100) / 100
}
