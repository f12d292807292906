package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chat.log")
	log, err := New(Config{File: path, Level: "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("session connected")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "session connected") {
		t.Fatalf("log file missing entry: %s", data)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{File: filepath.Join(t.TempDir(), "x.log"), Level: "loud"}); err == nil {
		t.Fatal("expected error")
	}
}
