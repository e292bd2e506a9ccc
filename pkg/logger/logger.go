package logger

// Backend is the interface a logging backend has to implement to be
// registered with Init.
type Backend interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

// Logger fans log calls out to all registered backends.
type Logger struct {
	backends []Backend
}

var singleton *Logger

// Init sets up the global logger with one or more backends. It must be
// called before any logging function; calls before Init are dropped.
func Init(backends ...Backend) {
	singleton = &Logger{
		backends: backends,
	}
}

func each(fn func(backend Backend)) {
	logger := singleton
	if logger == nil {
		return
	}

	for _, backend := range logger.backends {
		fn(backend)
	}
}

// Log writes a message at the default log level to all configured backends.
func Log(message string, keyvals ...any) {
	each(func(backend Backend) {
		backend.Log(message, keyvals...)
	})
}

// Debug writes a message at DEBUG level to all configured backends.
func Debug(message string, keyvals ...any) {
	each(func(backend Backend) {
		backend.Debug(message, keyvals...)
	})
}

// Info writes a message at INFO level to all configured backends.
func Info(message string, keyvals ...any) {
	each(func(backend Backend) {
		backend.Info(message, keyvals...)
	})
}

// Warn writes a message at WARN level to all configured backends.
func Warn(message string, keyvals ...any) {
	each(func(backend Backend) {
		backend.Warn(message, keyvals...)
	})
}

// Error writes a message at ERROR level to all configured backends.
func Error(message string, keyvals ...any) {
	each(func(backend Backend) {
		backend.Error(message, keyvals...)
	})
}

// Fatal writes a message at FATAL level; backends are expected to
// terminate the program.
func Fatal(message string, keyvals ...any) {
	each(func(backend Backend) {
		backend.Fatal(message, keyvals...)
	})
}
