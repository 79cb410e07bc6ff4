package redisconn

import (
	"github.com/sirupsen/logrus"
)

// LogEvent identifies a Controller lifecycle point a Logger is told
// about. Names follow the teacher's LogConnecting/LogConnected/...
// call sites, extended with the three telemetry events named in
// spec.md section 6.
type LogEvent int

const (
	LogConnecting LogEvent = iota
	LogConnected
	LogConnectFailed
	LogDisconnected
	LogReconnected
	LogContextClosed
)

func (e LogEvent) String() string {
	switch e {
	case LogConnecting:
		return "connecting"
	case LogConnected:
		return "connected"
	case LogConnectFailed:
		return "failed_connection"
	case LogDisconnected:
		return "disconnection"
	case LogReconnected:
		return "reconnected"
	case LogContextClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Logger receives the telemetry events emitted by the Connection
// Controller. Report must not block and must not call back into the
// Connection.
type Logger interface {
	Report(event LogEvent, addr string, args ...interface{})
}

type logrusLogger struct {
	log *logrus.Logger
}

// NewLogrusLogger adapts a *logrus.Logger into a Logger. A nil l uses
// logrus.StandardLogger().
func NewLogrusLogger(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &logrusLogger{log: l}
}

func (l *logrusLogger) Report(event LogEvent, addr string, args ...interface{}) {
	entry := l.log.WithField("event", event.String())
	if addr != "" {
		entry = entry.WithField("address", addr)
	}
	switch event {
	case LogConnectFailed, LogDisconnected:
		if len(args) > 0 {
			entry = entry.WithField("reason", args[0])
		}
		entry.Warn("redisconn: ", event)
	case LogContextClosed:
		entry.Info("redisconn: connection closed")
	default:
		entry.Debug("redisconn: ", event)
	}
}
