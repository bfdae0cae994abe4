// Package monitoring provides the package-level diagnostic logger used by
// the reconstruction stages. There is no ambient global state beyond the
// replaceable log function: callers that need silence (tests) or redirection
// install their own sink via SetLogger.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or
// mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose toggles Debugf output.
func SetVerbose(v bool) { verbose = v }

// Debugf logs through Logf only when verbose mode is enabled.
func Debugf(format string, v ...interface{}) {
	if verbose {
		Logf(format, v...)
	}
}
