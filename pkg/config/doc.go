// Package config loads application configuration from KEYFOLD_*
// environment variables and validates it before anything starts.
package config
