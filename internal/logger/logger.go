package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const RequestIDKey ctxKey = "request_id"

// Logger wraps logrus.Logger with the field helpers used across the service.
type Logger struct {
	*logrus.Logger
}

// New creates a JSON logger writing to stdout at the given level.
func New(level string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Logger{Logger: log}
}

func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

func (l *Logger) WithSession(sessionID string) *logrus.Entry {
	return l.Logger.WithField("session_id", sessionID)
}

// WithContext adds the request id carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(l.Logger)
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

// Audit records security relevant session events (sign in, sign out, gate denials).
func (l *Logger) Audit(ctx context.Context, userID, action string, success bool, details logrus.Fields) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"audit":   true,
		"user_id": userID,
		"action":  action,
		"success": success,
	})
	if len(details) > 0 {
		entry = entry.WithFields(details)
	}

	if success {
		entry.Info("audit event")
	} else {
		entry.Warn("audit event failed")
	}
}
