package ulogger

import "sync/atomic"

// TestingT is the subset of *testing.T the test loggers need.
type TestingT interface {
	Errorf(format string, args ...interface{})
	Logf(format string, args ...any)
}

// ErrorTestLogger is silent at debug, info and warn level but fails the test
// when the code under test logs at error or fatal level. Use it in scenario
// tests whose happy path must not produce error logs. Call Shutdown before
// teardown so goroutines that outlive the scenario cannot touch a finished
// testing.T.
type ErrorTestLogger struct {
	t        TestingT
	shutdown atomic.Bool
}

func NewErrorTestLogger(t TestingT) *ErrorTestLogger {
	return &ErrorTestLogger{t: t}
}

// Shutdown silences the logger. Call it before test cleanup.
func (l *ErrorTestLogger) Shutdown() {
	l.shutdown.Store(true)
}

func (l *ErrorTestLogger) LogLevel() int { return 0 }

func (l *ErrorTestLogger) SetLogLevel(_ string) {}

func (l *ErrorTestLogger) New(_ string, _ ...Option) Logger { return l }

func (l *ErrorTestLogger) Duplicate(_ ...Option) Logger { return l }

func (l *ErrorTestLogger) Debugf(format string, args ...interface{}) {}

func (l *ErrorTestLogger) Infof(format string, args ...interface{}) {}

func (l *ErrorTestLogger) Warnf(format string, args ...interface{}) {}

func (l *ErrorTestLogger) Errorf(format string, args ...interface{}) {
	if l.shutdown.Load() {
		return
	}

	l.t.Errorf("unexpected error log: "+format, args...)
}

func (l *ErrorTestLogger) Fatalf(format string, args ...interface{}) {
	if l.shutdown.Load() {
		return
	}

	l.t.Errorf("unexpected fatal log: "+format, args...)
}
