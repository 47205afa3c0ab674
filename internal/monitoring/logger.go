// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose enables or disables Debugf output.
func SetVerbose(on bool) { verbose.Store(on) }

// Verbose reports whether Debugf output is enabled.
func Verbose() bool { return verbose.Load() }

// Component logs lines prefixed with a bracketed component name, e.g.
// "[Localizer] ...".
type Component string

// Logf logs through the package logger with the component prefix.
func (c Component) Logf(format string, v ...interface{}) {
	Logf("["+string(c)+"] "+format, v...)
}

// Debugf is Logf gated on Verbose.
func (c Component) Debugf(format string, v ...interface{}) {
	if !verbose.Load() {
		return
	}
	c.Logf(format, v...)
}
