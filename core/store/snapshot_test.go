package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	users := NewUserTable()
	users.Insert("alice", "pw1")
	users.Insert("bob", "p w&2")
	users.Insert("名字", "密码")

	path := filepath.Join(t.TempDir(), "users.pb")
	if err := SaveSnapshot(path, users); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := NewUserTable()
	if err := LoadSnapshot(path, loaded); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != users.Len() {
		t.Fatalf("Expected %d users, got %d", users.Len(), loaded.Len())
	}
	users.Range(func(name, pwd string) bool {
		if got, ok := loaded.Lookup(name); !ok || got != pwd {
			t.Errorf("user %q: Expected %q, got %q (found=%v)", name, pwd, got, ok)
		}
		return true
	})
}

func TestSnapshot_MissingFile(t *testing.T) {
	users := NewUserTable()
	if err := LoadSnapshot(filepath.Join(t.TempDir(), "absent.pb"), users); err != nil {
		t.Errorf("Expected no error for a missing snapshot, got %v", err)
	}
	if users.Len() != 0 {
		t.Errorf("Expected empty table, got %d users", users.Len())
	}
}

func TestSnapshot_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.pb")
	os.WriteFile(path, []byte{0xff, 0xff, 0xff}, 0o600)

	if err := LoadSnapshot(path, NewUserTable()); err == nil {
		t.Error("Expected an error for a corrupt snapshot")
	}
}

func TestUserTable_InsertOnce(t *testing.T) {
	users := NewUserTable()
	if !users.Insert("a", "1") {
		t.Error("Expected first insert to succeed")
	}
	if users.Insert("a", "2") {
		t.Error("Expected second insert to fail")
	}
	if pwd, _ := users.Lookup("a"); pwd != "1" {
		t.Errorf("Expected password 1, got %s", pwd)
	}
}
