// Package config loads the gqlws server configuration.
//
// Values are layered with the following precedence (highest to lowest):
//
//  1. Command-line flags (applied by the CLI)
//  2. Environment variables (GQLWS_* prefix)
//  3. The YAML configuration file
//  4. Default values
//
// Durations are written as Go duration strings ("10s", "500ms"). The source of
// every value set by a file, the environment or a flag is tracked in
// Config.Sources for `gqlws validate --show-sources`.
package config
