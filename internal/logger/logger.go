package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process logger. It is a no-op until Init runs, so packages
// may log unconditionally.
var Log = zap.NewNop().Sugar()

// Init replaces Log. With logPath set, logs go to that file (appended,
// colorless); otherwise to stderr so `convert` keeps stdout for JSON.
func Init(verbose bool, logPath string) error {
	var w io.Writer = os.Stderr
	color := true
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			Log = New(os.Stderr, verbose, true)
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
		color = false
	}
	Log = New(w, verbose, color)
	return nil
}

// New builds a console logger writing to w.
func New(w io.Writer, verbose, color bool) *zap.SugaredLogger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encoderConfig.EncodeCaller = nil

	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)
	return zap.New(core).Sugar()
}

// Sync flushes any buffered log entries.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
