// Package config loads and validates DDMS Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by DDMS_* environment variables. Validation is
// collected into a single error so operators see every problem at once.
package config
