// Package config loads the depgraph process configuration.
//
// Values come from, in increasing priority: built-in defaults, an optional
// depgraph.toml in the working directory, DEPGRAPH_* environment variables,
// and command line flags. Keys are the flag names, so DEPGRAPH_LOG_LEVEL,
// log-level in the file and --log-level all set the same field.
package config
