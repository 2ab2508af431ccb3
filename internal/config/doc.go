// Package config loads runtime configuration from multiple sources (YAML files,
// an optional .env file, environment variables, CLI flags) with precedence:
// CLI flags > Environment variables > YAML config > Defaults. It exposes
// strongly typed settings to the rest of the application, including the
// storage selection for the settings resolver and the logger registry.
package config
