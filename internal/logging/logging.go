// Package logging configures the process-wide zap logger.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mrlokans/crudkit/internal/config"
)

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

// L returns the configured logger. Before Init it returns a no-op logger.
func L() *zap.Logger {
	return current.Load()
}

// SetLogger replaces the package logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

// Init builds a logger from cfg and installs it as the package logger.
func Init(cfg config.Logger) (*zap.Logger, error) {
	logger, err := New(cfg)
	if err != nil {
		return nil, err
	}
	SetLogger(logger)
	return logger, nil
}

// New builds a logger from cfg without installing it.
func New(cfg config.Logger) (*zap.Logger, error) {
	if cfg.Disabled {
		return zap.NewNop(), nil
	}

	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var sink zapcore.WriteSyncer
	if cfg.Filename != "" {
		dir := cfg.Filepath
		if dir == "" {
			dir = "./syslog"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(dir, cfg.Filename),
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.BackupCount,
			LocalTime:  true,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// LogData renders v as JSON for log messages. Times are written in their
// String form, and values that cannot be encoded fall back to %v.
func LogData(v any) string {
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func normalize(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.String()
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}
