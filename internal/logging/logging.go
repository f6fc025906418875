// Package logging configures the process-wide logger and provides the
// gin middleware that routes request logs through it.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var base = logrus.StandardLogger()

// SetupBaseLogger applies the default formatter and level. Call once,
// before any other logging.
func SetupBaseLogger() {
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	base.SetLevel(logrus.InfoLevel)
	base.SetOutput(os.Stderr)
}

// SetDebug toggles debug-level logging.
func SetDebug(enabled bool) {
	if enabled {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// ConfigureLogOutput switches logging to a rotated file when toFile is set.
// Rotation is handled by lumberjack; stderr remains the target otherwise.
func ConfigureLogOutput(toFile bool, logDir string) error {
	if !toFile {
		base.SetOutput(os.Stderr)
		return nil
	}
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "gembridge.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	base.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}

func Debugf(format string, args ...any) { base.Debugf(format, args...) }
func Infof(format string, args ...any)  { base.Infof(format, args...) }
func Warnf(format string, args ...any)  { base.Warnf(format, args...) }
func Errorf(format string, args ...any) { base.Errorf(format, args...) }
func Fatalf(format string, args ...any) { base.Fatalf(format, args...) }

// WithError returns an entry carrying err for structured emission.
func WithError(err error) *logrus.Entry { return base.WithError(err) }

// WithField returns an entry carrying a single structured field.
func WithField(key string, value any) *logrus.Entry { return base.WithField(key, value) }
