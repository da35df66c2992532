package supervisor

import (
	"fmt"
	"time"
)

// DetectionMode selects which signals drive presence-loss detection.
type DetectionMode string

const (
	// ModePoll relies on the periodic roster check only.
	ModePoll DetectionMode = "poll"
	// ModeEvent relies on gateway connection signals only.
	ModeEvent DetectionMode = "event"
	// ModeHybrid feeds both signals into the same transition.
	ModeHybrid DetectionMode = "hybrid"
)

// ParseDetectionMode accepts poll, event or hybrid; empty means hybrid.
func ParseDetectionMode(s string) (DetectionMode, error) {
	switch DetectionMode(s) {
	case "":
		return ModeHybrid, nil
	case ModePoll, ModeEvent, ModeHybrid:
		return DetectionMode(s), nil
	default:
		return "", fmt.Errorf("unknown liveness mode %q", s)
	}
}

// Policy holds the supervision timing parameters.
type Policy struct {
	LivenessInterval time.Duration
	Mode             DetectionMode
	// ConnectTimeout bounds authentication, join and roster calls.
	ConnectTimeout time.Duration
	// MaxLifetime of zero disables expiry.
	MaxLifetime   time.Duration
	SweepInterval time.Duration
	Backoff       Backoff
}

// DefaultPolicy returns production defaults.
func DefaultPolicy() Policy {
	return Policy{
		LivenessInterval: 15 * time.Second,
		Mode:             ModeHybrid,
		ConnectTimeout:   25 * time.Second,
		MaxLifetime:      6 * time.Hour,
		SweepInterval:    45 * time.Second,
		Backoff: Backoff{
			Base:        2 * time.Second,
			Max:         time.Minute,
			MaxAttempts: 6,
		},
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.LivenessInterval <= 0 {
		p.LivenessInterval = d.LivenessInterval
	}
	if p.Mode == "" {
		p.Mode = d.Mode
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = d.ConnectTimeout
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = d.SweepInterval
	}
	if p.Backoff.MaxAttempts <= 0 {
		p.Backoff.MaxAttempts = d.Backoff.MaxAttempts
	}
	return p
}
