package resilience

import (
	"time"
)

// FromAppendConfig builds the ledger-append retry policy from config values.
func FromAppendConfig(attempts, backoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	if backoffMs > 0 {
		cfg.InitialBackoff = time.Duration(backoffMs) * time.Millisecond
		cfg.MaxBackoff = max(cfg.MaxBackoff, 10*cfg.InitialBackoff)
	}
	return cfg
}
