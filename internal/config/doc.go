// Package config loads, normalizes, and validates the worker configuration.
//
// Configuration is TOML. Load reads an optional .env file, applies the
// CYCAX_SERVER and CYCAX_TEMP_DIR fallbacks, expands ~ in paths, and returns
// an error marked with services.ErrConfiguration when the result is unusable.
package config
