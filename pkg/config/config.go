// Package config loads engine configuration from environment variables.
// The pure core never reads any of this; it configures the engine shell,
// stores, and observability only.
package config

import "os"

// Config holds engine configuration.
type Config struct {
	LogLevel      string
	ContractDir   string
	PolicyPath    string
	SignalLogPath string
	MedallionPath string
	KeystorePath  string
	SigningMethod string
	RedisAddr     string
	PostgresDSN   string
	OTLPEndpoint  string
	OTelEnabled   bool
}

// Load loads configuration from environment variables with local
// defaults.
func Load() *Config {
	cfg := &Config{
		LogLevel:      getenv("VERITY_LOG_LEVEL", "INFO"),
		ContractDir:   getenv("VERITY_CONTRACT_DIR", "contracts"),
		PolicyPath:    getenv("VERITY_POLICY_PATH", "policies/flow_v1.yaml"),
		SignalLogPath: getenv("VERITY_SIGNAL_LOG", "data/signals.jsonl"),
		MedallionPath: getenv("VERITY_MEDALLION_DB", "data/medallion.db"),
		KeystorePath:  getenv("VERITY_KEYSTORE", "data/keyring.json"),
		SigningMethod: getenv("VERITY_SIGNING_METHOD", "ed25519"),
		RedisAddr:     os.Getenv("VERITY_REDIS_ADDR"),
		PostgresDSN:   os.Getenv("VERITY_POSTGRES_DSN"),
		OTLPEndpoint:  getenv("VERITY_OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:   os.Getenv("VERITY_OTEL_ENABLED") == "true",
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
