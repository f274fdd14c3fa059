// Package config provides configuration loading and validation for the
// meeting translate service. It handles YAML-based configuration with
// per-section validation; API credentials are taken from the environment
// and never appear in the file.
package config
