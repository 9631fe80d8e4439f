// Package config loads Warden runtime configuration from WARDEN_*
// environment variables (viper) and the optional fleet topology file
// (YAML) declaring the fixed agent registry and dependency probes.
package config
