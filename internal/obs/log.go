package obs

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var (
	base         = newBase(os.Stdout)
	debugEnabled atomic.Bool
)

func newBase(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000000000Z07:00",
		FieldMap:        logrus.FieldMap{logrus.FieldKeyTime: "ts"},
	})
	return l
}

// EnableDebug globally enables debug logs. Call once before serving.
func EnableDebug(v bool) { debugEnabled.Store(v) }

// DebugEnabled reports whether debug logs are emitted.
func DebugEnabled() bool { return debugEnabled.Load() }

// SetFormat switches between "json" (default) and "text" output.
func SetFormat(format string) {
	switch format {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000000000Z07:00",
			FieldMap:        logrus.FieldMap{logrus.FieldKeyTime: "ts"},
		})
	}
}

// SetOutput redirects all log output, mostly for tests.
func SetOutput(w io.Writer) { base.SetOutput(w) }

type Fields = logrus.Fields

func Info(msg string, f Fields)  { base.WithFields(f).Info(msg) }
func Error(msg string, f Fields) { base.WithFields(f).Error(msg) }
func Debug(msg string, f Fields) {
	if debugEnabled.Load() {
		base.WithFields(f).Debug(msg)
	}
}
