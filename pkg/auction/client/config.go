package client

import (
	"time"

	"github.com/code-payments/code-auction/pkg/config"
	"github.com/code-payments/code-auction/pkg/config/env"
	"github.com/code-payments/code-auction/pkg/config/memory"
	"github.com/code-payments/code-auction/pkg/config/wrapper"
)

const (
	envConfigPrefix = "AUCTION_CLIENT_"

	MaxSubmitAttemptsConfigEnvName = envConfigPrefix + "MAX_SUBMIT_ATTEMPTS"
	defaultMaxSubmitAttempts       = 5

	SubmitBackoffConfigEnvName = envConfigPrefix + "SUBMIT_BACKOFF"
	defaultSubmitBackoff       = 250 * time.Millisecond

	MaxSubmitBackoffConfigEnvName = envConfigPrefix + "MAX_SUBMIT_BACKOFF"
	defaultMaxSubmitBackoff       = 5 * time.Second

	// Submissions per second allowed for each fee payer. Zero disables
	// throttling.
	SubmitRateConfigEnvName = envConfigPrefix + "SUBMIT_RATE"
	defaultSubmitRate       = 0
)

type conf struct {
	maxSubmitAttempts config.Uint64
	submitBackoff     config.Duration
	maxSubmitBackoff  config.Duration
	submitRate        config.Float64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			maxSubmitAttempts: env.NewUint64Config(MaxSubmitAttemptsConfigEnvName, defaultMaxSubmitAttempts),
			submitBackoff:     env.NewDurationConfig(SubmitBackoffConfigEnvName, defaultSubmitBackoff),
			maxSubmitBackoff:  env.NewDurationConfig(MaxSubmitBackoffConfigEnvName, defaultMaxSubmitBackoff),
			submitRate:        env.NewFloat64Config(SubmitRateConfigEnvName, defaultSubmitRate),
		}
	}
}

type testOverrides struct {
	maxSubmitAttempts uint64
	submitRate        float64
}

func withManualTestOverrides(overrides *testOverrides) ConfigProvider {
	maxAttempts := uint64(defaultMaxSubmitAttempts)
	if overrides.maxSubmitAttempts > 0 {
		maxAttempts = overrides.maxSubmitAttempts
	}

	return func() *conf {
		return &conf{
			maxSubmitAttempts: wrapper.NewUint64Config(memory.NewConfig(maxAttempts), defaultMaxSubmitAttempts),
			submitBackoff:     wrapper.NewDurationConfig(memory.NewConfig(time.Millisecond), defaultSubmitBackoff),
			maxSubmitBackoff:  wrapper.NewDurationConfig(memory.NewConfig(10*time.Millisecond), defaultMaxSubmitBackoff),
			submitRate:        wrapper.NewFloat64Config(memory.NewConfig(overrides.submitRate), defaultSubmitRate),
		}
	}
}
