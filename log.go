package remoteadapter

// LogLevel describes the chosen log level.
type LogLevel int

const (
	// LogLevelNone means no logging.
	LogLevelNone LogLevel = iota
	// LogLevelTrace turns on trace logs, the protocol lines exchanged with
	// the Proxy Adapter are logged at this level.
	LogLevelTrace
	// LogLevelDebug turns on debug logs - it's generally too much for production
	// in normal conditions but can help when developing and investigating problems.
	LogLevelDebug
	// LogLevelInfo turns on info logs.
	LogLevelInfo
	// LogLevelWarn turns on warning logs.
	LogLevelWarn
	// LogLevelError turns on error logs - this is a minimal level which must
	// be monitored.
	LogLevelError
)

// levelToString matches LogLevel to its string representation.
var levelToString = map[LogLevel]string{
	LogLevelTrace: "trace",
	LogLevelDebug: "debug",
	LogLevelInfo:  "info",
	LogLevelWarn:  "warn",
	LogLevelError: "error",
	LogLevelNone:  "none",
}

// LogLevelToString transforms LogLevel to its string representation.
func LogLevelToString(l LogLevel) string {
	if t, ok := levelToString[l]; ok {
		return t
	}
	panic("unknown log level")
}

// LogStringToLevel parses a level name. Unknown names map to LogLevelNone.
func LogStringToLevel(s string) LogLevel {
	for level, name := range levelToString {
		if name == s {
			return level
		}
	}
	return LogLevelNone
}

// LogEntry represents log entry.
type LogEntry struct {
	Level   LogLevel
	Message string
	Fields  map[string]any
}

// newLogEntry helps to create Entry.
func newLogEntry(level LogLevel, message string, fields ...map[string]any) LogEntry {
	var f map[string]any
	if len(fields) > 0 {
		f = fields[0]
	}
	return LogEntry{
		Level:   level,
		Message: message,
		Fields:  f,
	}
}

// newErrorLogEntry adds the error to the fields of an error level entry.
func newErrorLogEntry(err error, message string, fields ...map[string]any) LogEntry {
	var f map[string]any
	if len(fields) > 0 && fields[0] != nil {
		f = fields[0]
	} else {
		f = make(map[string]any, 1)
	}
	f["error"] = err.Error()
	return LogEntry{
		Level:   LogLevelError,
		Message: message,
		Fields:  f,
	}
}

// LogHandler handles log entries - i.e. writes into correct destination if necessary.
type LogHandler func(LogEntry)

func newLogger(level LogLevel, handler LogHandler) *logger {
	return &logger{
		level:   level,
		handler: handler,
	}
}

// logger can log entries.
type logger struct {
	level   LogLevel
	handler LogHandler
}

// log calls log handler with provided LogEntry.
func (l *logger) log(entry LogEntry) {
	if l == nil {
		return
	}
	if l.enabled(entry.Level) {
		l.handler(entry)
	}
}

// enabled says whether specified Level enabled or not.
func (l *logger) enabled(level LogLevel) bool {
	if l == nil {
		return false
	}
	return level >= l.level && l.level != LogLevelNone && l.handler != nil
}
