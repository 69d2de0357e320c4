package log

// MultiLogger fans events out to several loggers.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger returns a logger writing to every logger given. Nil and
// NoopLogger entries are dropped and nested MultiLoggers are flattened.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		m.add(l)
	}
	return m
}

func (m *MultiLogger) add(l Logger) {
	switch v := l.(type) {
	case nil, NoopLogger:
	case *MultiLogger:
		for _, inner := range v.loggers {
			m.add(inner)
		}
	default:
		m.loggers = append(m.loggers, l)
	}
}

// Log sends the event to all loggers.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Tee combines loggers like NewMultiLogger, but returns NoopLogger when
// nothing is left and the sole logger itself when one is.
func Tee(loggers ...Logger) Logger {
	m := NewMultiLogger(loggers...)
	switch len(m.loggers) {
	case 0:
		return NoopLogger{}
	case 1:
		return m.loggers[0]
	default:
		return m
	}
}

var _ Logger = (*MultiLogger)(nil)
