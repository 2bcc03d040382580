package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDailyWriterWriteAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDailyWriterWithPrefix(dir, "", 0)
	if err != nil {
		t.Fatalf("NewDailyWriterWithPrefix: %v", err)
	}
	defer writer.Close()

	if _, err := writer.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if writer.retentionDays != defaultRetentionDays {
		t.Errorf("retention = %d, want %d", writer.retentionDays, defaultRetentionDays)
	}

	date := time.Now().Format("20060102")
	path := filepath.Join(dir, defaultPrefix+"-"+date+".log")
	if writer.CurrentPath() != path {
		t.Errorf("CurrentPath = %q, want %q", writer.CurrentPath(), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log content missing")
	}
}

func TestDailyWriterRotatesAtMidnight(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDailyWriterWithPrefix(dir, "test", 30)
	if err != nil {
		t.Fatalf("NewDailyWriterWithPrefix: %v", err)
	}
	defer writer.Close()

	tomorrow := time.Now().AddDate(0, 0, 1)
	writer.now = func() time.Time { return tomorrow }
	if _, err := writer.Write([]byte("next day")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := filepath.Join(dir, "test-"+tomorrow.Format("20060102")+".log")
	if writer.CurrentPath() != want {
		t.Fatalf("CurrentPath = %q, want %q", writer.CurrentPath(), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected rotated file: %v", err)
	}
}

func TestDailyWriterRotateAndCleanup(t *testing.T) {
	dir := t.TempDir()
	prefix := "test"

	oldDate := time.Now().AddDate(0, 0, -3).Format("20060102")
	recentDate := time.Now().Format("20060102")
	oldPath := filepath.Join(dir, prefix+"-"+oldDate+".log")
	recentPath := filepath.Join(dir, prefix+"-"+recentDate+".log")
	otherPath := filepath.Join(dir, "other-"+oldDate+".log")
	for _, p := range []string{oldPath, recentPath, otherPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	writer, err := NewDailyWriterWithPrefix(dir, prefix, 1)
	if err != nil {
		t.Fatalf("NewDailyWriterWithPrefix: %v", err)
	}
	defer writer.Close()

	if _, err := os.Stat(oldPath); err == nil {
		t.Fatalf("expected old log to be removed")
	}
	if _, err := os.Stat(recentPath); err != nil {
		t.Fatalf("expected recent log to remain: %v", err)
	}
	if _, err := os.Stat(otherPath); err != nil {
		t.Fatalf("expected foreign log to remain: %v", err)
	}
}

func TestDailyWriterCloseNil(t *testing.T) {
	w := &DailyWriter{}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	previous := slog.Default()
	defer slog.SetDefault(previous)

	logger, writer, err := NewLogger(dir, Options{Level: "debug", Format: "json", Console: &console})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer writer.Close()

	logger.Debug("rate fetched", "date", "2024-06-14")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(console.Bytes()), &entry); err != nil {
		t.Fatalf("console output is not JSON: %v (%q)", err, console.String())
	}
	if entry["service"] != defaultPrefix || entry["date"] != "2024-06-14" {
		t.Errorf("entry = %v", entry)
	}
	data, err := os.ReadFile(writer.CurrentPath())
	if err != nil || !strings.Contains(string(data), "rate fetched") {
		t.Errorf("log file missing entry: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"-8", slog.Level(-8)},
		{"loud", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.in, slog.LevelInfo); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, "", "text")
	logger.Info("hidden")
	logger.Warn("shown", "ticker", "TFA")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "ticker=TFA") {
		t.Errorf("console output = %q", out)
	}
}
