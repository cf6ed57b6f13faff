package logger

import (
	"sync"
)

// Levels accepted in the server.log_level config field. Anything else falls
// back to info.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

var (
	global *Logger
	once   sync.Once
)

// Get returns the process-wide logger, building it with the given level on
// first use. Later calls return the same instance and ignore the level, so
// the composition root must be the first caller once the configured level
// is known.
func Get(level string) *Logger {
	once.Do(func() {
		global = newZapLogger(level)
	})
	return global
}
