//go:build !windows

package logging

import (
	"log/syslog"

	"go.uber.org/zap/zapcore"
)

// SyslogSink writes to the local syslog daemon under the given tag (§6:
// sercd's default, non-"-e" logging destination). log/syslog has no
// third-party replacement in the example corpus, so the standard library
// is used directly here.
func SyslogSink(tag string) (Sink, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, err
	}
	return zapcore.Lock(zapcore.AddSync(w)), nil
}
