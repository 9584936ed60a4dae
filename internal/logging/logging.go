// Package logging wires sercd's own severity scale (LOG_EMERG..LOG_DEBUG,
// RFC 5424 / sercd.c's MaxLogLevel) onto go.uber.org/zap, in the
// nil-checked *zap.SugaredLogger style used throughout the example corpus
// (e.g. cybroslabs-libdlms-go's tcp.Stream).
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity mirrors the syslog priority levels sercd.c's LogMsg dispatches
// on (0 = most severe).
type Severity int

const (
	Emerg Severity = iota
	Alert
	Crit
	Err
	Warning
	Notice
	Info
	Debug
)

var severityNames = map[string]Severity{
	"emerg": Emerg, "alert": Alert, "crit": Crit, "err": Err,
	"warning": Warning, "notice": Notice, "info": Info, "debug": Debug,
}

// ParseSeverity accepts either a numeric sercd loglevel (0..7, §6 CLI) or
// one of its syslog names.
func ParseSeverity(s string) (Severity, error) {
	if name, ok := severityNames[s]; ok {
		return name, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && n >= int(Emerg) && n <= int(Debug) {
		return Severity(n), nil
	}
	return 0, fmt.Errorf("logging: invalid log level %q", s)
}

// zapLevel maps a syslog severity onto the nearest zapcore.Level; sercd's
// eight-level scale is finer than the zap levels used here, so Emerg/Alert/
// Crit all collapse to DPanic and Err to Error (never Fatal, so no severity
// terminates the process), and Notice/Info share Info.
func (s Severity) zapLevel() zapcore.Level {
	switch {
	case s <= Crit:
		return zapcore.DPanicLevel
	case s == Err:
		return zapcore.ErrorLevel
	case s == Warning:
		return zapcore.WarnLevel
	case s == Notice || s == Info:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// New builds a *zap.SugaredLogger writing through sink at the given
// maximum severity (only messages at or below maxLevel, i.e. more severe
// or equal, are emitted — matching sercd.c's "LogLevel <= MaxLogLevel").
func New(maxLevel Severity, sink zapcore.WriteSyncer) *zap.SugaredLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(maxLevel.zapLevel()))
	return zap.New(core, zap.AddCaller()).Sugar()
}

// Sink is an ambient destination for log output, matching sercd's -e flag
// choice between syslog and stderr (§6).
type Sink interface {
	zapcore.WriteSyncer
}

// StderrSink writes to the process's standard error, used with -e and in
// inetd mode, where stdin/stdout are the client socket and stderr is the
// only safe channel left (§4.7, §6).
func StderrSink() Sink {
	return zapcore.Lock(zapcore.AddSync(os.Stderr))
}
