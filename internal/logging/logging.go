// Package logging configures the shared charmbracelet logger for the
// jenkins-up CLI.
//
// The logger is the debug/trace channel: it reports what operation is
// being issued against the daemon and why. Operator-facing results and
// prompts stay on plain stdout, so scripts parsing command output are
// never mixed with log lines.
package logging

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	instance *log.Logger
	once     sync.Once
)

// Logger returns the process-wide logger. It writes to stderr with
// timestamps and defaults to the info level.
func Logger() *log.Logger {
	once.Do(func() {
		instance = log.NewWithOptions(os.Stderr, log.Options{
			Level:           log.InfoLevel,
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
		})
	})
	return instance
}

// SetVerbose switches the shared logger to the debug level.
func SetVerbose(verbose bool) {
	if verbose {
		Logger().SetLevel(log.DebugLevel)
	}
}
