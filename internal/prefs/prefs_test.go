package prefs

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if result.Dirty {
		t.Error("migration left db dirty")
	}
}

func TestGetMissingKeyReturnsEmpty(t *testing.T) {
	db := testDB(t)

	v, err := db.Get("never_set")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("missing key = %q, want empty", v)
	}
}

func TestSetGetRoundtrip(t *testing.T) {
	db := testDB(t)

	if err := db.Set("composer_hint", "dismissed"); err != nil {
		t.Fatal(err)
	}
	v, err := db.Get("composer_hint")
	if err != nil {
		t.Fatal(err)
	}
	if v != "dismissed" {
		t.Errorf("value = %q", v)
	}

	// Overwrite.
	if err := db.Set("composer_hint", "shown"); err != nil {
		t.Fatal(err)
	}
	if v, _ = db.Get("composer_hint"); v != "shown" {
		t.Errorf("overwritten value = %q", v)
	}
}

func TestBoolFlags(t *testing.T) {
	db := testDB(t)

	v, err := db.GetBool("onboarded")
	if err != nil {
		t.Fatal(err)
	}
	if v {
		t.Error("absent flag should be false")
	}

	if err := db.SetBool("onboarded", true); err != nil {
		t.Fatal(err)
	}
	if v, _ = db.GetBool("onboarded"); !v {
		t.Error("flag not set")
	}

	if err := db.SetBool("onboarded", false); err != nil {
		t.Fatal(err)
	}
	if v, _ = db.GetBool("onboarded"); v {
		t.Error("flag not cleared")
	}
}
