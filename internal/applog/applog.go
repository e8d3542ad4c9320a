// Package applog is the project's logging facade: every call takes a
// "subject" - typically a virtual path, host path, or cache key - that is
// attached as a structured field rather than interpolated into the
// message.
package applog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
}

// Verbosity maps the CLI's -v/-vv/-vvv count onto a log level.
func Verbosity(count int) {
	switch {
	case count >= 3:
		log.SetLevel(logrus.TraceLevel)
	case count == 2:
		log.SetLevel(logrus.DebugLevel)
	case count == 1:
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(logrus.WarnLevel)
	}
}

func entry(subject any) *logrus.Entry {
	if subject == nil {
		return log.WithField("subject", "-")
	}
	return log.WithField("subject", fmt.Sprint(subject))
}

// Debugf logs at debug level, the level for noisy per-request tracing
// (cache hits, inode allocation, worker dispatch).
func Debugf(subject any, format string, args ...any) {
	entry(subject).Debugf(format, args...)
}

// Infof logs at info level: mount lifecycle, config load, eviction runs.
func Infof(subject any, format string, args ...any) {
	entry(subject).Infof(format, args...)
}

// Logf logs a message that should always be emitted regardless of
// verbosity level. It logs at warning level, the most restrictive level
// Verbosity ever sets.
func Logf(subject any, format string, args ...any) {
	entry(subject).Warnf(format, args...)
}

// Errorf logs at error level: codec failures, cache write faults,
// eviction walk errors. It never aborts the caller; it is a sink, not a
// control-flow mechanism.
func Errorf(subject any, format string, args ...any) {
	entry(subject).Errorf(format, args...)
}

// Fatalf logs at fatal level and exits the process - reserved for startup
// faults: an uncreatable cache directory, an unparseable config file, a
// failed mount.
func Fatalf(subject any, format string, args ...any) {
	entry(subject).Fatalf(format, args...)
}
