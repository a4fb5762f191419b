// Package config loads and validates the service's YAML configuration.
package config
