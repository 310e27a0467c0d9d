// Package monitoring is the diagnostic logging seam shared by every
// component. Log lines carry a bracketed component tag followed by
// key=value fields ("[Store] stream=s1 frame_idx=7 stored"); each
// package obtains its tagged function once via Component, and tests
// swap the whole output with SetLogger.
package monitoring

import "log"

// Logf is the sink every tagged logger writes through. It defaults to
// log.Printf; SetLogger replaces it process-wide.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the log sink. Passing nil mutes all output, which
// the test suites use to keep pipeline chatter out of test logs.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a log function that prefixes every line with the
// bracketed component tag. The returned function reads Logf at call
// time, so SetLogger affects already-constructed component loggers.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
