// Package config handles loading and validating RemoteRelay bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading an optional .env file into the environment
//   - Overriding with REMOTERELAY_* environment variables
//   - Validation of required fields
//
// Sensitive values (JWT secret, MQTT password, InfluxDB token) should be
// supplied through the environment rather than the YAML file.
//
// Usage:
//
//	if err := config.LoadDotEnv(".env"); err != nil {
//	    return err
//	}
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	interval := cfg.PollInterval()
package config
