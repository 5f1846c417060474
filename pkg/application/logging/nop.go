package logging

// NewNopLogger returns a logger that discards everything. Intended for tests
// and for callers that opt out of logging.
func NewNopLogger() MainLogger {
	return nopLogger{}
}

type nopLogger struct{}

func (l nopLogger) WithField(string, interface{}) Logger { return l }
func (l nopLogger) WithFields(Fields) Logger             { return l }
func (l nopLogger) Debug(...interface{})                 {}
func (l nopLogger) Info(...interface{})                  {}
func (l nopLogger) Warning(error, ...interface{})        {}
func (l nopLogger) Error(error, ...interface{})          {}
func (l nopLogger) FatalError(error, ...interface{})     {}
