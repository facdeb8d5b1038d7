package prefs

import (
	"database/sql"
	"errors"
	"time"
)

// Get returns the stored value for key, or "" if the key was never set.
func (db *DB) Get(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores or replaces the value for key.
func (db *DB) Set(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO prefs (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetBool reads a flag; absent keys are false.
func (db *DB) GetBool(key string) (bool, error) {
	v, err := db.Get(key)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// SetBool stores a flag.
func (db *DB) SetBool(key string, v bool) error {
	if v {
		return db.Set(key, "true")
	}
	return db.Set(key, "false")
}
