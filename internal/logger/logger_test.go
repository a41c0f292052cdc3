package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestConvertFields(t *testing.T) {
	fields := convertFields("source_id", "coop", "count", 3, 42, "skipped", "error", errors.New("boom"), "dangling")
	if len(fields) != 3 {
		t.Fatalf("Expected 3 fields, got %d", len(fields))
	}
	if fields[0].Key != "source_id" || fields[1].Key != "count" {
		t.Errorf("Unexpected keys: %s, %s", fields[0].Key, fields[1].Key)
	}
	if fields[2].Type != zapcore.ErrorType {
		t.Errorf("Expected error field to be encoded as error, got %v", fields[2].Type)
	}
}

func TestNew_WritesJSONToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "counter.log")
	log, err := New(LogConfig{Level: "debug", Format: "json", Output: out})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	log.Named("coordinator").With("instance", "barn").Info("Detection complete", "count", 2)
	log.Sync()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"Detection complete"`, `"count":2`, `"instance":"barn"`, `"logger":"coordinator"`} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected log line to contain %s, got %s", want, line)
		}
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(LogConfig{Level: "loud", Format: "text", Output: "stderr"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug to be disabled for unknown level")
	}
	if !log.Core().Enabled(zapcore.InfoLevel) {
		t.Error("Expected info to be enabled for unknown level")
	}
}
