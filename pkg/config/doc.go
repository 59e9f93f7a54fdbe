// Package config loads and validates the supervisor's device configuration.
//
// Configuration is a single YAML file with ${VAR} and ${VAR:default}
// environment expansion, defaults applied after parsing, and struct-tag
// validation. The device must name at least one target source: a control
// plane URL to poll, a local target file to watch, or both.
package config
