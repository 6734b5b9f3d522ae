package monitor

import "time"

// StalenessPolicy controls how old a monitor's last check may be before its
// stored status stops being trusted. Between FreshMultiplier and
// StaleMultiplier times the interval the last known status is still reported,
// just without fresh confirmation; past StaleMultiplier the projection is
// unknown. The stored status is never rewritten, so brief scheduler hiccups
// do not cause flapping.
type StalenessPolicy struct {
	FreshMultiplier int `yaml:"fresh_multiplier" json:"fresh_multiplier"`
	StaleMultiplier int `yaml:"stale_multiplier" json:"stale_multiplier"`
}

// DefaultStalenessPolicy matches the historical 3x/10x window.
func DefaultStalenessPolicy() StalenessPolicy {
	return StalenessPolicy{FreshMultiplier: 3, StaleMultiplier: 10}
}

// Projection is a read-time view of a monitor's status.
type Projection struct {
	Status    Status `json:"status"`
	Confirmed bool   `json:"confirmed"`
}

// EffectiveStatus projects the status to report for a monitor at the given
// time. A monitor with no check yet, or whose last check is older than
// StaleMultiplier times its interval, reports unknown rather than trusting a
// stale stored status.
func EffectiveStatus(m *Monitor, now time.Time, policy StalenessPolicy) Projection {
	if m.LastCheckAt == nil {
		return Projection{Status: StatusUnknown}
	}
	age := now.Sub(*m.LastCheckAt)
	if age > time.Duration(policy.StaleMultiplier)*m.Interval() {
		return Projection{Status: StatusUnknown}
	}
	if age > time.Duration(policy.FreshMultiplier)*m.Interval() {
		return Projection{Status: m.LastStatus, Confirmed: false}
	}
	return Projection{Status: m.LastStatus, Confirmed: true}
}
