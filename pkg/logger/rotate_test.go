package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestAuditRotatorRotatesBySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newAuditRotator(path, 1, 3, 1)
	if err != nil {
		t.Fatalf("newAuditRotator: %v", err)
	}
	defer w.Close()
	w.maxBytes = 16

	if _, err := w.Write([]byte("0123456789")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := w.Write([]byte("0123456789")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("backup missing after rotation: %v", err)
	}
	if string(backup) != "0123456789" {
		t.Fatalf("backup content %q", backup)
	}
	live, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("live file missing: %v", err)
	}
	if string(live) != "0123456789" {
		t.Fatalf("live content %q", live)
	}
}

func TestAuditRotatorBoundsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newAuditRotator(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("newAuditRotator: %v", err)
	}
	defer w.Close()
	w.maxBytes = 4

	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte("abcd")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatal("newest backup should exist")
	}
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Fatal("backups beyond the configured count should be dropped")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNamedTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, nil)
	base := slog.New(handler)

	prev := defaultLogger
	defaultLogger = base
	defer func() { defaultLogger = prev }()

	Named("ledger").Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte("component=ledger")) {
		t.Fatalf("component tag missing: %s", buf.String())
	}
}
