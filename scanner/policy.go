package scanner

import (
	"fmt"
	"math"
	"time"

	"github.com/mcuadros/go-defaults"
)

// MissingAction decides what happens to a session whose current request can
// not be carried out: the characteristic never showed up or dispatch kept failing.
type MissingAction string

const (
	// ActionSkip abandons the request for that peer and moves to the next one.
	ActionSkip MissingAction = "skip"
	// ActionDrop drops the whole peer session.
	ActionDrop MissingAction = "drop"
)

// MaxDispatchRetriesLimit is the largest MaxDispatchRetries Validate accepts.
const MaxDispatchRetriesLimit = 32

// Policy bounds how long a session waits and how often it retries.
//
// Validate requires positive timeouts. New does not validate, and a zero
// timeout given to New disables the corresponding timer; that only suits hosts
// whose transport reports missing characteristics and every response itself.
type Policy struct {
	DiscoveryTimeout   time.Duration `default:"10s" yaml:"discovery_timeout" json:"discovery_timeout"`
	OnMissing          MissingAction `default:"skip" yaml:"on_missing" json:"on_missing"`
	MaxDispatchRetries int           `default:"3" yaml:"max_dispatch_retries" json:"max_dispatch_retries"`
	RetryBackoff       time.Duration `default:"250ms" yaml:"retry_backoff" json:"retry_backoff"`
	MaxRetryBackoff    time.Duration `default:"5s" yaml:"max_retry_backoff" json:"max_retry_backoff"`
	ResponseTimeout    time.Duration `default:"10s" yaml:"response_timeout" json:"response_timeout"`
	ResumeOnAppend     bool          `default:"true" yaml:"resume_on_append" json:"resume_on_append"`
	OutcomeBuffer      int           `default:"256" yaml:"outcome_buffer" json:"outcome_buffer"`
}

// DefaultPolicy returns the default session policy.
func DefaultPolicy() *Policy {
	p := &Policy{}
	defaults.SetDefaults(p)
	return p
}

// Validate checks the policy for values the scanner can not work with.
func (p *Policy) Validate() error {
	switch p.OnMissing {
	case ActionSkip, ActionDrop:
	default:
		return fmt.Errorf("invalid on_missing action %q (must be skip or drop)", p.OnMissing)
	}
	if p.MaxDispatchRetries < 0 || p.MaxDispatchRetries > MaxDispatchRetriesLimit {
		return fmt.Errorf("max_dispatch_retries must be between 0 and %d: %d", MaxDispatchRetriesLimit, p.MaxDispatchRetries)
	}
	if p.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discovery_timeout must be > 0: %v", p.DiscoveryTimeout)
	}
	if p.ResponseTimeout <= 0 {
		return fmt.Errorf("response_timeout must be > 0: %v", p.ResponseTimeout)
	}
	if p.RetryBackoff < 0 || p.MaxRetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if p.OutcomeBuffer <= 0 {
		return fmt.Errorf("outcome_buffer must be > 0: %d", p.OutcomeBuffer)
	}
	return nil
}

// Backoff returns the delay before dispatch retry number attempt (0-based):
// RetryBackoff doubled per attempt, capped at MaxRetryBackoff when it is set.
func (p *Policy) Backoff(attempt int) time.Duration {
	d := p.RetryBackoff
	for i := 0; i < attempt && d > 0; i++ {
		if p.MaxRetryBackoff > 0 && d >= p.MaxRetryBackoff {
			break
		}
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}
	if p.MaxRetryBackoff > 0 && d > p.MaxRetryBackoff {
		d = p.MaxRetryBackoff
	}
	return d
}
