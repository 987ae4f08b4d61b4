package ledger

import (
	"github.com/code-payments/code-auction/pkg/config"
	"github.com/code-payments/code-auction/pkg/config/env"
	"github.com/code-payments/code-auction/pkg/config/memory"
	"github.com/code-payments/code-auction/pkg/config/wrapper"
	"github.com/code-payments/code-auction/pkg/lock/local"
	"github.com/code-payments/code-auction/pkg/solana/system"
)

const (
	envConfigPrefix = "LEDGER_"

	LockStripesConfigEnvName = envConfigPrefix + "LOCK_STRIPES"
	defaultLockStripes       = local.DefaultStripes

	RentLamportsPerByteYearConfigEnvName = envConfigPrefix + "RENT_LAMPORTS_PER_BYTE_YEAR"
	defaultRentLamportsPerByteYear       = 3480

	RentExemptionThresholdYearsConfigEnvName = envConfigPrefix + "RENT_EXEMPTION_THRESHOLD_YEARS"
	defaultRentExemptionThresholdYears       = 2.0

	MaxInstructionDepthConfigEnvName = envConfigPrefix + "MAX_INSTRUCTION_DEPTH"
	defaultMaxInstructionDepth       = 4
)

type conf struct {
	lockStripes                 config.Uint64
	rentLamportsPerByteYear     config.Uint64
	rentExemptionThresholdYears config.Float64
	maxInstructionDepth         config.Uint64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			lockStripes:                 env.NewUint64Config(LockStripesConfigEnvName, defaultLockStripes),
			rentLamportsPerByteYear:     env.NewUint64Config(RentLamportsPerByteYearConfigEnvName, defaultRentLamportsPerByteYear),
			rentExemptionThresholdYears: env.NewFloat64Config(RentExemptionThresholdYearsConfigEnvName, defaultRentExemptionThresholdYears),
			maxInstructionDepth:         env.NewUint64Config(MaxInstructionDepthConfigEnvName, defaultMaxInstructionDepth),
		}
	}
}

type testOverrides struct {
	maxInstructionDepth uint64
}

func withManualTestOverrides(overrides *testOverrides) ConfigProvider {
	maxDepth := uint64(defaultMaxInstructionDepth)
	if overrides.maxInstructionDepth > 0 {
		maxDepth = overrides.maxInstructionDepth
	}

	return func() *conf {
		return &conf{
			lockStripes:                 wrapper.NewUint64Config(memory.NewConfig(uint64(16)), defaultLockStripes),
			rentLamportsPerByteYear:     wrapper.NewUint64Config(memory.NewConfig(system.DefaultRent.LamportsPerByteYear), defaultRentLamportsPerByteYear),
			rentExemptionThresholdYears: wrapper.NewFloat64Config(memory.NewConfig(system.DefaultRent.ExemptionThreshold), defaultRentExemptionThresholdYears),
			maxInstructionDepth:         wrapper.NewUint64Config(memory.NewConfig(maxDepth), defaultMaxInstructionDepth),
		}
	}
}
