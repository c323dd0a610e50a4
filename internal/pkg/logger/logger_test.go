package logger

import (
	"context"
	"os"
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "default config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name: "console output",
			config: &Config{
				Level:  "info",
				Format: "console",
				Output: "console",
			},
			wantErr: false,
		},
		{
			name: "file output",
			config: &Config{
				Level:  "debug",
				Format: "json",
				Output: "file",
				File: FileConfig{
					Filename:   "/tmp/filevault-test.log",
					MaxSize:    10,
					MaxAge:     7,
					MaxBackups: 3,
					Compress:   true,
				},
			},
			wantErr: false,
		},
		{
			name: "invalid level",
			config: &Config{
				Level:  "invalid",
				Format: "json",
				Output: "console",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: &Config{
				Level:  "info",
				Format: "invalid",
				Output: "console",
			},
			wantErr: true,
		},
		{
			name: "file output without filename",
			config: &Config{
				Level:  "info",
				Format: "json",
				Output: "file",
				File: FileConfig{
					Filename: "",
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
			if logger != nil {
				logger.Sync()
			}
		})
	}

	os.Remove("/tmp/filevault-test.log")
}

func TestWithContext(t *testing.T) {
	logger, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithRequestID(context.Background(), "req-123")

	contextLogger := logger.WithContext(ctx)
	if contextLogger == nil {
		t.Error("WithContext() returned nil logger")
	}

	// Context without request ID returns the same logger
	plain := logger.WithContext(context.Background())
	if plain != logger {
		t.Error("WithContext() without request ID should return the receiver")
	}
}

func TestFromContext(t *testing.T) {
	logger, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := ToContext(context.Background(), logger)
	got := FromContext(ctx)
	if got == nil {
		t.Error("FromContext() returned nil logger")
	}

	// Missing logger falls back to the global instance
	if FromContext(context.Background()) == nil {
		t.Error("FromContext() should fall back to global logger")
	}
}

func TestNamed(t *testing.T) {
	logger, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	named := logger.Named("blobstore")
	if named == nil {
		t.Error("Named() returned nil logger")
	}
	named.Info("named logger works", zap.String("component", "blobstore"))
}

func TestGetRequestID(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}

	ctx := WithRequestID(context.Background(), "req-456")
	if got := GetRequestID(ctx); got != "req-456" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-456")
	}
}
