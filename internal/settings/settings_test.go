package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	obj, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(obj) != 0 {
		t.Fatalf("expected empty object, got %v", obj)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	obj, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(obj) != 0 {
		t.Fatalf("corrupt file should load as empty, got %v", obj)
	}
}

func TestSetLastDirectoryPreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"theme":"dark","lastDirectory":"/old"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path)
	if err := s.SetLastDirectory("/home/user/project"); err != nil {
		t.Fatalf("SetLastDirectory: %v", err)
	}

	dir, err := s.LastDirectory()
	if err != nil {
		t.Fatalf("LastDirectory: %v", err)
	}
	if dir != "/home/user/project" {
		t.Fatalf("LastDirectory = %q, want /home/user/project", dir)
	}

	obj, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	var theme string
	if err := json.Unmarshal(obj["theme"], &theme); err != nil || theme != "dark" {
		t.Fatalf("theme key not preserved: %s", obj["theme"])
	}
}

func TestLastDirectoryUnset(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	dir, err := s.LastDirectory()
	if err != nil {
		t.Fatalf("LastDirectory: %v", err)
	}
	if dir != "" {
		t.Fatalf("expected empty last directory, got %q", dir)
	}
}
