package domain

import (
	"fmt"
	"time"
)

// RetryPolicy bounds how a failed hop is re-delivered by the task queue.
type RetryPolicy struct {
	// Attempts is the number of retries after the first execution.
	Attempts     int           `json:"attempts" mapstructure:"attempts"`
	MinBackoff   time.Duration `json:"min_backoff" mapstructure:"min_backoff"`
	MaxBackoff   time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
	AgeLimit     time.Duration `json:"age_limit,omitempty" mapstructure:"age_limit"`
	MaxDoublings int           `json:"max_doublings" mapstructure:"max_doublings"`
}

// DefaultRetryPolicy is used when neither the machine nor the transition set one.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:     5,
	MinBackoff:   100 * time.Millisecond,
	MaxBackoff:   time.Hour,
	MaxDoublings: 16,
}

// Validate checks that the policy is internally consistent.
func (p RetryPolicy) Validate() error {
	if p.Attempts < 0 {
		return fmt.Errorf("retry attempts must not be negative, got %d", p.Attempts)
	}
	if p.MinBackoff < 0 || p.MaxBackoff < 0 || p.AgeLimit < 0 {
		return fmt.Errorf("retry durations must not be negative")
	}
	if p.MaxBackoff > 0 && p.MinBackoff > p.MaxBackoff {
		return fmt.Errorf("min backoff %s exceeds max backoff %s", p.MinBackoff, p.MaxBackoff)
	}
	if p.MaxDoublings < 0 {
		return fmt.Errorf("max doublings must not be negative, got %d", p.MaxDoublings)
	}
	return nil
}

// Merge fills the zero fields of p from fallback.
func (p RetryPolicy) Merge(fallback RetryPolicy) RetryPolicy {
	if p == (RetryPolicy{}) {
		return fallback
	}
	if p.MinBackoff == 0 {
		p.MinBackoff = fallback.MinBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = fallback.MaxBackoff
	}
	if p.AgeLimit == 0 {
		p.AgeLimit = fallback.AgeLimit
	}
	if p.MaxDoublings == 0 {
		p.MaxDoublings = fallback.MaxDoublings
	}
	return p
}

// Backoff returns the delay before retry number n (1-based). The delay
// doubles up to MaxDoublings times and then grows linearly, capped at MaxBackoff.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.MinBackoff <= 0 {
		return p.MinBackoff
	}
	doublings := n - 1
	linear := 0
	if doublings > p.MaxDoublings {
		linear = doublings - p.MaxDoublings
		doublings = p.MaxDoublings
	}
	delay := p.MinBackoff
	for i := 0; i < doublings; i++ {
		delay *= 2
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	delay += time.Duration(linear) * delay
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
