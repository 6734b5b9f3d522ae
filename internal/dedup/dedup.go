// Package dedup interns large repeated check payloads (error strings, TLS
// certificates, domain records) behind small content-addressed references so
// repeated checks do not grow storage linearly.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
	"github.com/zateckar/uptimo-sub000/internal/storage"
)

// Service interns payloads through a DedupStore and converts ExtraData to and
// from its compact persisted form.
type Service struct {
	store  storage.DedupStore
	logger *logrus.Logger
}

// NewService creates a dedup service backed by the given store.
func NewService(store storage.DedupStore, logger *logrus.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// HashErrorMessage returns the stable content hash for an error message.
func HashErrorMessage(message string) string {
	return hashFields("error", strings.TrimSpace(message))
}

// HashCertificate hashes the semantically identifying fields of a certificate:
// domain, issuer, subject, validity window and serial. Incidental fields do
// not participate, so two observations of the same certificate dedupe
// together.
func HashCertificate(ci *monitor.CertificateInfo) string {
	return hashFields("cert",
		strings.ToLower(ci.Domain),
		ci.Issuer,
		ci.Subject,
		ci.NotBefore.UTC().Format("2006-01-02T15:04:05Z"),
		ci.NotAfter.UTC().Format("2006-01-02T15:04:05Z"),
		ci.SerialNumber,
	)
}

// HashDomainInfo hashes a domain record by its domain name.
func HashDomainInfo(di *monitor.DomainInfo) string {
	return hashFields("domain", strings.ToLower(di.Domain))
}

// hashFields builds a stable hash over ordered, normalized identity fields.
func hashFields(kind string, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, f := range fields {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// InternError stores or reuses an error-message record and returns its
// reference ID.
func (s *Service) InternError(ctx context.Context, message string) (int64, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize error message: %w", err)
	}
	rec, err := s.store.GetOrCreate(ctx, storage.DedupErrorMessage, HashErrorMessage(message), payload)
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// InternCertificate stores or reuses a certificate record.
func (s *Service) InternCertificate(ctx context.Context, ci *monitor.CertificateInfo) (int64, error) {
	payload, err := json.Marshal(ci)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize certificate info: %w", err)
	}
	rec, err := s.store.GetOrCreate(ctx, storage.DedupCertificate, HashCertificate(ci), payload)
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// InternDomainInfo stores or reuses a domain record.
func (s *Service) InternDomainInfo(ctx context.Context, di *monitor.DomainInfo) (int64, error) {
	payload, err := json.Marshal(di)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize domain info: %w", err)
	}
	rec, err := s.store.GetOrCreate(ctx, storage.DedupDomainInfo, HashDomainInfo(di), payload)
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// compactExtra is the persisted shape of ExtraData: cert and domain blobs are
// replaced by reference IDs, everything small stays inline.
type compactExtra struct {
	CertID          *int64             `json:"cert_id,omitempty"`
	DomainID        *int64             `json:"domain_id,omitempty"`
	ResponseHeaders map[string]string  `json:"response_headers,omitempty"`
	Kafka           *monitor.KafkaInfo `json:"kafka,omitempty"`
	SSLWarning      bool               `json:"ssl_warning,omitempty"`
	Fields          map[string]string  `json:"fields,omitempty"`
}

// Compact replaces the cert/domain blobs of extra with dedup references and
// returns the serialized compact form. A nil extra compacts to nil.
func (s *Service) Compact(ctx context.Context, extra *monitor.ExtraData) ([]byte, error) {
	if extra == nil {
		return nil, nil
	}

	ce := compactExtra{
		ResponseHeaders: extra.ResponseHeaders,
		Kafka:           extra.Kafka,
		SSLWarning:      extra.SSLWarning,
		Fields:          extra.Fields,
	}

	if extra.CertInfo != nil {
		id, err := s.InternCertificate(ctx, extra.CertInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to intern certificate: %w", err)
		}
		ce.CertID = &id
	}
	if extra.DomainInfo != nil {
		id, err := s.InternDomainInfo(ctx, extra.DomainInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to intern domain info: %w", err)
		}
		ce.DomainID = &id
	}

	data, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize compact extra: %w", err)
	}
	return data, nil
}

// Reconstruct is the exact inverse of Compact: it rehydrates the referenced
// records by ID and re-merges the inline fields.
func (s *Service) Reconstruct(ctx context.Context, data []byte) (*monitor.ExtraData, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var ce compactExtra
	if err := json.Unmarshal(data, &ce); err != nil {
		return nil, fmt.Errorf("failed to parse compact extra: %w", err)
	}

	extra := &monitor.ExtraData{
		ResponseHeaders: ce.ResponseHeaders,
		Kafka:           ce.Kafka,
		SSLWarning:      ce.SSLWarning,
		Fields:          ce.Fields,
	}

	if ce.CertID != nil {
		rec, err := s.store.GetDedupRecord(ctx, storage.DedupCertificate, *ce.CertID)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate record %d: %w", *ce.CertID, err)
		}
		var ci monitor.CertificateInfo
		if err := json.Unmarshal(rec.Payload, &ci); err != nil {
			return nil, fmt.Errorf("failed to parse certificate record: %w", err)
		}
		extra.CertInfo = &ci
	}
	if ce.DomainID != nil {
		rec, err := s.store.GetDedupRecord(ctx, storage.DedupDomainInfo, *ce.DomainID)
		if err != nil {
			return nil, fmt.Errorf("failed to load domain record %d: %w", *ce.DomainID, err)
		}
		var di monitor.DomainInfo
		if err := json.Unmarshal(rec.Payload, &di); err != nil {
			return nil, fmt.Errorf("failed to parse domain record: %w", err)
		}
		extra.DomainInfo = &di
	}

	return extra, nil
}

// ResolveError rehydrates an interned error message by reference ID.
func (s *Service) ResolveError(ctx context.Context, id int64) (string, error) {
	rec, err := s.store.GetDedupRecord(ctx, storage.DedupErrorMessage, id)
	if err != nil {
		return "", err
	}
	var message string
	if err := json.Unmarshal(rec.Payload, &message); err != nil {
		return "", fmt.Errorf("failed to parse error record: %w", err)
	}
	return message, nil
}
