package config

import (
	"os"
	"path/filepath"
)

// OrbitPath returns the root directory for Orbit data.
// It uses $ORBIT_PATH if set, otherwise defaults to ~/.orbit.
func OrbitPath() string {
	if v := os.Getenv("ORBIT_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".orbit")
	}
	return filepath.Join(home, ".orbit")
}

// ConfigPath returns the path to the Orbit config file.
func ConfigPath() string {
	return filepath.Join(OrbitPath(), "config.jsonc")
}

// DotenvPath returns the path to the Orbit .env file.
func DotenvPath() string {
	return filepath.Join(OrbitPath(), ".env")
}

// SessionsPath returns the directory holding persisted sessions.
func SessionsPath() string {
	return filepath.Join(OrbitPath(), "sessions")
}

// EventLogPath returns the directory holding event log segments.
func EventLogPath() string {
	return filepath.Join(OrbitPath(), "events")
}
