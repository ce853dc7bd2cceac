// Package logging wraps the structured logger the runtime threads through
// every component, grounded on the leveled logger the reference transport
// code pulls in (github.com/prometheus/common/log). It is passed as an
// explicit value, never used as a package-level global, per the design
// note that runtime state (and its logger) should be an explicit context.
package logging

import (
	plog "github.com/prometheus/common/log"
)

// Logger is a small, leveled, field-carrying logger. With attaches fields
// for the lifetime of the returned Logger; callers build one per
// component ("node", "transport", "directory", ...) at construction time.
type Logger struct {
	fields plog.Fields
}

// New returns a Logger with no fields attached.
func New() Logger { return Logger{fields: plog.Fields{}} }

// With returns a copy of l with key=value merged into its fields.
func (l Logger) With(key string, value interface{}) Logger {
	next := make(plog.Fields, len(l.fields)+1)
	for k, v := range l.fields {
		next[k] = v
	}
	next[key] = value
	return Logger{fields: next}
}

func (l Logger) entry() *plog.Entry {
	return plog.WithFields(l.fields)
}

func (l Logger) Debugf(format string, args ...interface{}) { l.entry().Debugf(format, args...) }
func (l Logger) Infof(format string, args ...interface{})  { l.entry().Infof(format, args...) }
func (l Logger) Warnf(format string, args ...interface{})  { l.entry().Warnf(format, args...) }
func (l Logger) Errorf(format string, args ...interface{}) { l.entry().Errorf(format, args...) }
