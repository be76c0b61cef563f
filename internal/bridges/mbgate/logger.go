package mbgate

// Logger defines the logging interface used by the gateway core.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func logDebug(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func logInfo(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func logWarn(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func logError(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Error(msg, keysAndValues...)
	}
}
