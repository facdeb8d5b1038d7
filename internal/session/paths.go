// Package session resolves the per-user session identity and its on-disk
// layout under ~/.marketchat. A session is one signed-in marketplace user;
// the session name is their uid.
package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.marketchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".marketchat")
}

// Dir returns the session-specific directory.
func Dir(uid string) string {
	return filepath.Join(BaseDir(), "sessions", uid)
}

// LockPath returns the lock file path for a session.
func LockPath(uid string) string {
	return filepath.Join(Dir(uid), "LOCK")
}

// PrefsDBPath returns the local prefs database path.
func PrefsDBPath(uid string) string {
	return filepath.Join(Dir(uid), "prefs.db")
}

// LogDir returns the log directory for a session.
func LogDir(uid string) string {
	return filepath.Join(Dir(uid), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(uid string) string {
	return filepath.Join(LogDir(uid), "marketchatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with owner-only permissions.
func EnsureDir(uid string) error {
	dirs := []string{
		Dir(uid),
		LogDir(uid),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
