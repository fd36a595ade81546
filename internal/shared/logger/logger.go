// Package logger configures the process-wide logrus logger.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Setup applies level and format to the standard logrus logger. An unknown
// level falls back to info; format is "json" or "text".
func Setup(level, format string) {
	logger := logrus.StandardLogger()
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	hooks := make(logrus.LevelHooks)
	hooks.Add(TraceHook{})
	logger.ReplaceHooks(hooks)
}

// TraceHook copies the active span's ids onto entries logged with
// WithContext, so log lines can be joined to traces.
type TraceHook struct{}

func (TraceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (TraceHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(entry.Context)
	if !sc.IsValid() {
		return nil
	}
	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()
	return nil
}
