package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		enabled zapcore.Level
		wantErr bool
	}{
		{"json info", "info", "json", zapcore.InfoLevel, false},
		{"console debug", "debug", "console", zapcore.DebugLevel, false},
		{"default format", "WARN", "", zapcore.WarnLevel, false},
		{"bad level", "loud", "json", 0, true},
		{"bad format", "info", "xml", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("Expected level %s to be enabled", tt.enabled)
			}
			if tt.enabled > zapcore.DebugLevel && logger.Core().Enabled(tt.enabled-1) {
				t.Errorf("Expected level %s to be disabled", tt.enabled-1)
			}
		})
	}
}
