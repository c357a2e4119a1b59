// Package config loads bridge configuration from environment variables
// (kelseyhightower/envconfig) with an optional YAML or TOML overlay file.
//
// The relay port follows the build tooling convention: tooling listens on
// PORT and the relay on PORT+RELAY_PORT_OFFSET (offset 1 by default).
package config
