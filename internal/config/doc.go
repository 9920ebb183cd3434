// Package config handles configuration loading for wardlink.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment
// variable expansion. Every field is optional; unset fields keep the values
// from Default.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from WARDLINK_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/wardlink/wardlink.yaml
//  4. ~/.config/wardlink/wardlink.yaml
//
// A missing file at the default location is not an error.
//
// # Environment Variable Expansion
//
//	telemetry:
//	  base_url: "http://${DOMOTICZ_HOST}:8080"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	timing:
//	  broadcast_interval: "250ms"
//	  quiet_period: "2s"
//	  request_cooldown: "3s"
//
// # Sections
//
//	identity: "nurse-station-3"
//	network:
//	  local_address: "127.0.0.1"
//	  coordinator_address: "127.0.0.1"
//	  discovery_port: 25555
//	  pairing_port: 25556
//	  session_port: 25557
//	registry:
//	  path: "~/.local/share/wardlink/registry.db"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
