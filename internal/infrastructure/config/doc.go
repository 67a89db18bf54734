// Package config loads and validates procpipe configuration.
//
// procpipe runs without a config file; Load("") yields the defaults with
// environment overrides applied. Secrets (MQTT password, InfluxDB token, JWT
// secret) are best supplied through PROCPIPE_* variables rather than the
// file.
//
// Usage:
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
package config
