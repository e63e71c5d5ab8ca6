// Package config provides configuration helpers for the stabilizer commands.
package config

import (
	"os"
	"strconv"
)

// Defaults used when the environment does not override them.
const (
	DefaultWebPort  = "8080"
	DefaultBackend  = "cpu"
	DefaultLogLevel = "info"
	DefaultServer   = "http://localhost:8080"
)

// Env returns the value of key, or def when it is unset or empty.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvBool parses key as a boolean, falling back to def.
func EnvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// WebPort returns the control server port from STAB_WEB_PORT.
func WebPort() string { return Env("STAB_WEB_PORT", DefaultWebPort) }

// Backend returns the image backend from STAB_BACKEND (cpu, cuda, auto).
func Backend() string { return Env("STAB_BACKEND", DefaultBackend) }

// LogLevel returns the log level from STAB_LOG_LEVEL.
func LogLevel() string { return Env("STAB_LOG_LEVEL", DefaultLogLevel) }

// ServerURL returns the control server stabctl talks to, from STAB_SERVER.
func ServerURL() string { return Env("STAB_SERVER", DefaultServer) }

// Production reports whether GO_ENV is "production".
func Production() bool { return os.Getenv("GO_ENV") == "production" }
