// Package config reads the environment-variable surface spec.md §6
// names for the relay and workstation binaries, following the envOr
// pattern cmd/wt/serve.go uses for the same purpose.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/echoshell-dev/echoshell/internal/relay"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnvOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// LoadRelay builds relay.Config from PORT, PUBLIC_HOST,
// PUBLIC_PROTOCOL, TUNNEL_REGISTRATION_API_KEY, LOG_LEVEL, and the
// bandwidth-meter overrides (spec.md §6). The registration key is
// required — the relay must exit non-zero rather than serve with an
// empty one. The bandwidth defaults mirror the teacher's hardcoded
// 1 MiB/s sustained rate and 1 MiB burst for relay.NewBandwidthMeter.
func LoadRelay() (relay.Config, error) {
	apiKey := os.Getenv("TUNNEL_REGISTRATION_API_KEY")
	if apiKey == "" {
		return relay.Config{}, fmt.Errorf("TUNNEL_REGISTRATION_API_KEY is required")
	}
	return relay.Config{
		Port:                 envOr("PORT", "8000"),
		PublicHost:           os.Getenv("PUBLIC_HOST"),
		PublicProtocol:       envOr("PUBLIC_PROTOCOL", "http"),
		RegistrationAPIKey:   apiKey,
		LogLevel:             envOr("LOG_LEVEL", "info"),
		BandwidthBytesPerSec: intEnvOr("TUNNEL_BANDWIDTH_BYTES_PER_SEC", 1<<20),
		BandwidthBurst:       intEnvOr("TUNNEL_BANDWIDTH_BURST", 1<<20),
	}, nil
}
