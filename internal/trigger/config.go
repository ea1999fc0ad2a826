package trigger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

// Config holds the tunables for a ChangeMonitor. Preflight fills any
// zero-valued field from DefaultConfig, so the zero value passes
// validation with the default tunables.
type Config struct {
	// BatchSize caps the number of rows selected per polling tick.
	BatchSize int

	// MaxAttemptCount is the number of failed attempts after which a
	// row is abandoned and no longer leased.
	MaxAttemptCount int32

	// MaxLeaseRenewalCount is the number of renewals permitted before
	// the executor is forcibly cancelled.
	MaxLeaseRenewalCount int

	// LeaseIntervalSeconds is the lease length; the renewal period is
	// half of this.
	LeaseIntervalSeconds int

	// PollingIntervalSeconds is the delay between polling ticks.
	PollingIntervalSeconds int
}

// DefaultConfig returns sane tunable defaults for a ChangeMonitor.
func DefaultConfig() Config {
	return Config{
		BatchSize:              10,
		MaxAttemptCount:        5,
		MaxLeaseRenewalCount:   5,
		LeaseIntervalSeconds:   30,
		PollingIntervalSeconds: 5,
	}
}

// Bind registers the tunables as CLI flags for hosts that want to
// expose them. The engine itself has no CLI of its own.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.IntVar(&c.BatchSize, "triggerBatchSize", c.BatchSize,
		"maximum number of rows delivered to the executor per invocation")
	flags.Int32Var(&c.MaxAttemptCount, "triggerMaxAttemptCount", c.MaxAttemptCount,
		"number of failed attempts after which a row is abandoned")
	flags.IntVar(&c.MaxLeaseRenewalCount, "triggerMaxLeaseRenewalCount", c.MaxLeaseRenewalCount,
		"number of lease renewals permitted before the executor is cancelled")
	flags.IntVar(&c.LeaseIntervalSeconds, "triggerLeaseIntervalSeconds", c.LeaseIntervalSeconds,
		"length, in seconds, of a row lease")
	flags.IntVar(&c.PollingIntervalSeconds, "triggerPollingIntervalSeconds", c.PollingIntervalSeconds,
		"delay, in seconds, between polling ticks")
}

// Preflight validates the tunables, filling in any zero-valued fields
// from DefaultConfig.
func (c *Config) Preflight() error {
	d := DefaultConfig()
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxAttemptCount == 0 {
		c.MaxAttemptCount = d.MaxAttemptCount
	}
	if c.MaxLeaseRenewalCount == 0 {
		c.MaxLeaseRenewalCount = d.MaxLeaseRenewalCount
	}
	if c.LeaseIntervalSeconds == 0 {
		c.LeaseIntervalSeconds = d.LeaseIntervalSeconds
	}
	if c.PollingIntervalSeconds == 0 {
		c.PollingIntervalSeconds = d.PollingIntervalSeconds
	}

	if c.BatchSize < 0 {
		return &ConfigurationError{Reason: "BatchSize must be positive"}
	}
	if c.MaxAttemptCount < 0 {
		return &ConfigurationError{Reason: "MaxAttemptCount must be positive"}
	}
	if c.LeaseIntervalSeconds <= 0 {
		return &ConfigurationError{Reason: "LeaseIntervalSeconds must be positive"}
	}
	if c.PollingIntervalSeconds <= 0 {
		return &ConfigurationError{Reason: "PollingIntervalSeconds must be positive"}
	}
	return nil
}

// leaseInterval is the lease length as a time.Duration.
func (c Config) leaseInterval() time.Duration {
	return time.Duration(c.LeaseIntervalSeconds) * time.Second
}

// renewalInterval is half the lease length: the engine renews twice
// per lease.
func (c Config) renewalInterval() time.Duration {
	return c.leaseInterval() / 2
}

// pollingInterval is the delay between polling ticks.
func (c Config) pollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalSeconds) * time.Second
}

// validateUserFunctionID parses userFunctionID as a UUID. It is stored
// as a uniqueidentifier in the global state table, and its compacted
// form (no hyphens) is part of the worker table's name.
func validateUserFunctionID(userFunctionID string) (uuid.UUID, error) {
	id, err := uuid.Parse(userFunctionID)
	if err != nil {
		return uuid.UUID{}, &ConfigurationError{
			Reason: fmt.Sprintf("userFunctionID must be a valid UUID: %v", err),
		}
	}
	return id, nil
}
