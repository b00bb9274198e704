package logger

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewWithoutDir(t *testing.T) {
	log := Config{Level: "debug"}.New()
	if log == nil {
		t.Fatal("expected a logger")
	}
	log.Debug("smoke")
}

func TestChildWritersDisabled(t *testing.T) {
	out, errw := Config{}.ChildWriters("opencode")
	if out != nil || errw != nil {
		t.Fatal("writers must be nil without a log dir")
	}
}

func TestChildWritersWriteToDir(t *testing.T) {
	dir := t.TempDir()
	out, errw := Config{Dir: dir}.ChildWriters("opencode")
	if out == nil || errw == nil {
		t.Fatal("expected writers")
	}
	defer func() {
		_ = out.Close()
		_ = errw.Close()
	}()

	if _, err := out.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "opencode.stdout.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("log content = %q", data)
	}
}
