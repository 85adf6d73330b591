/*
Package config loads and validates the gateway's process configuration.

Precedence, highest first:

	Runtime overrides (admin API, out of scope for this package)
	Environment variables (UNIDRIVE_*)
	YAML config file
	NewDefault()

The Configuration struct carries both ambient concerns (logging, metrics,
health-check cadence, TLS posture) and the engine's own tunables: task
concurrency caps, the listing-cache TTL, retry backoff, per-call timeouts,
and the persisted Mount table. Mount.Config is kept as a raw map so
driver-specific fields the core doesn't understand round-trip through
save/load unchanged.
*/
package config
