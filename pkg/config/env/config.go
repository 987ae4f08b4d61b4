// Package env provides configs read from environment variables.
package env

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/code-payments/code-auction/pkg/config"
	"github.com/code-payments/code-auction/pkg/config/wrapper"
)

type variable string

// NewConfig returns a config holding the raw bytes of the upper-cased
// environment variable. The variable is read on every Get, so an unset or
// empty variable yields config.ErrNoValue and later changes are picked up.
func NewConfig(key string) config.Config {
	return variable(strings.ToUpper(key))
}

// Get implements config.Config.Get
func (v variable) Get(context.Context) (interface{}, error) {
	val, ok := os.LookupEnv(string(v))
	if !ok || val == "" {
		return nil, config.ErrNoValue
	}
	return []byte(val), nil
}

// Shutdown implements config.Config.Shutdown
func (variable) Shutdown() {}

func NewUint64Config(key string, defaultValue uint64) config.Uint64 {
	return wrapper.NewUint64Config(NewConfig(key), defaultValue)
}

func NewFloat64Config(key string, defaultValue float64) config.Float64 {
	return wrapper.NewFloat64Config(NewConfig(key), defaultValue)
}

// NewDurationConfig parses values like "250ms" or "5s".
func NewDurationConfig(key string, defaultValue time.Duration) config.Duration {
	return wrapper.NewDurationConfig(NewConfig(key), defaultValue)
}
