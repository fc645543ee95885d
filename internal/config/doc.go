/*
Package config loads and validates assetpipe configuration.

Values are layered with the following precedence, highest first:

	CLI flags          (--log-level, --metrics-port)
	Environment        (ASSETPIPE_*)
	Configuration file (YAML)
	Defaults           (NewDefault)

# Sections

	global           log level, format and file
	loader           retry budget, retry delay, per-attempt timeout, batch concurrency
	concurrency      executing load caps for the critical, district and optional tiers
	sources          http, file, s3 and minio fetchers
	circuit_breaker  per-host breaker around remote fetchers
	monitoring       Prometheus metrics endpoint

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("assetpipe.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

Field rules are declared as validator tags on the structs. Validate adds the
cross-section checks that tags cannot express, such as requiring at least one
enabled source.
*/
package config
