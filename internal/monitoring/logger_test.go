package monitoring

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	// lumberjack may still hold the file on Windows
	t.Cleanup(func() {
		time.Sleep(2 * time.Second)
	})

	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	cfg := &LogConfig{
		Level:      "info",
		Format:     "json",
		Output:     "file",
		FilePath:   logPath,
		MaxSizeMB:  10,
		MaxBackups: 2,
		MaxAgeDays: 7,
	}

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Info("test message", zap.String("category", "Pop-songs"))
	logger.Sync()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Errorf("Log file was not created: %s", logPath)
	}
}

func TestNewLoggerConsole(t *testing.T) {
	cfg := &LogConfig{
		Level:  "debug",
		Format: "console",
		Output: "console",
	}

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("Failed to create console logger: %v", err)
	}
	defer logger.Sync()

	logger.Debug("debug message")
	logger.Warn("warn message")
}

func TestNewLoggerInvalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  *LogConfig
	}{
		{name: "level", cfg: &LogConfig{Level: "invalid", Format: "json", Output: "console"}},
		{name: "format", cfg: &LogConfig{Level: "info", Format: "xml", Output: "console"}},
		{name: "output", cfg: &LogConfig{Level: "info", Format: "json", Output: "syslog"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLogger(tt.cfg); err == nil {
				t.Errorf("Expected error for invalid %s", tt.name)
			}
		})
	}
}

func TestNewProductionLogger(t *testing.T) {
	t.Cleanup(func() {
		time.Sleep(2 * time.Second)
	})

	tempDir := t.TempDir()

	logger, err := NewProductionLogger(tempDir)
	if err != nil {
		t.Fatalf("Failed to create production logger: %v", err)
	}
	logger.Info("production info message")
	logger.Sync()

	if _, err := os.Stat(filepath.Join(tempDir, "logs", "songcache.log")); err != nil {
		t.Errorf("Expected log file under data dir: %v", err)
	}
}

func TestComponentLogger(t *testing.T) {
	logger := ComponentLogger(nil, "queue", zap.String("session_id", "123"))
	if logger == nil {
		t.Fatal("Expected logger for nil parent")
	}
	logger.Info("message with context")
}
