package ulogger

import (
	"io"
	"os"
)

// Options holds the state mutated by Option functions.
type Options struct {
	writer        io.Writer
	loggerType    string
	logLevel      string
	skip          int
	skipIncrement int
}

// Option configures a Logger at construction time.
type Option func(*Options)

// DefaultOptions returns the baseline options: zerolog backend, INFO level, no extra
// stack skip, no explicit writer (stdout).
func DefaultOptions() *Options {
	return &Options{
		loggerType: "zerolog",
		logLevel:   "INFO",
		writer:     os.Stdout,
	}
}

// WithWriter directs log output at w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(o *Options) {
		o.writer = w
	}
}

// WithLoggerType selects the backend ("zerolog" or "gocore").
func WithLoggerType(loggerType string) Option {
	return func(o *Options) {
		o.loggerType = loggerType
	}
}

// WithLevel sets the minimum level a log call is emitted at.
func WithLevel(level string) Option {
	return func(o *Options) {
		o.logLevel = level
	}
}

// WithSkipFrame adds extra stack frames to skip when resolving the caller for
// file:line annotations.
func WithSkipFrame(skip int) Option {
	return func(o *Options) {
		o.skip = skip
	}
}

// WithSkipFrameIncrement adds extra stack frames to skip relative to the
// duplicated logger's current skip, rather than replacing it outright.
func WithSkipFrameIncrement(increment int) Option {
	return func(o *Options) {
		o.skipIncrement = increment
	}
}
