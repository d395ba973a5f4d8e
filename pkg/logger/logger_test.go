package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		logFile string
	}{
		{name: "debug level, no file", level: "debug"},
		{name: "info level, no file", level: "info"},
		{name: "warn level, no file", level: "warn"},
		{name: "error level, no file", level: "error"},
		{name: "invalid level defaults to info", level: "invalid"},
		{name: "with log file", level: "info", logFile: filepath.Join(t.TempDir(), "relay.log")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Log = nil

			if err := Init(tt.level, tt.logFile); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if Log == nil {
				t.Fatal("Init() succeeded but Log is nil")
			}
			_ = Log.Sync()
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestL_BeforeInit(t *testing.T) {
	Log = nil
	l := L()
	if l == nil {
		t.Fatal("L() returned nil before Init")
	}
	// Must not panic.
	l.Info("dropped")
	Named("relay").Debug("dropped")
}

func TestSync(t *testing.T) {
	Log, _ = zap.NewDevelopment()
	_ = Sync()

	Log = nil
	assert.NoError(t, Sync())
}

func TestInitWithLogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")

	if err := Init("info", logFile); err != nil {
		t.Fatalf("Init() with log file failed: %v", err)
	}

	Log.Info("test message")
	_ = Sync()

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}
}
