package main

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/pushkernel/remoteadapter"

	"github.com/segmentio/encoding/json"
)

// logger filters launcher entries by level, as the server does.
type logger struct {
	level   remoteadapter.LogLevel
	handler remoteadapter.LogHandler
}

func (l *logger) log(level remoteadapter.LogLevel, msg string, fields map[string]any) {
	if l.level == remoteadapter.LogLevelNone || level < l.level {
		return
	}
	l.handler(remoteadapter.LogEntry{Level: level, Message: msg, Fields: fields})
}

func newLogHandler(w io.Writer, format string) remoteadapter.LogHandler {
	if format == "json" {
		return newJSONLogHandler(w)
	}
	l := log.New(w, "", log.LstdFlags)
	return func(e remoteadapter.LogEntry) {
		l.Printf("[%s] %s: %v", remoteadapter.LogLevelToString(e.Level), e.Message, e.Fields)
	}
}

// newJSONLogHandler writes one JSON object per entry. Fields named time,
// level or msg are shadowed by the entry ones.
func newJSONLogHandler(w io.Writer) remoteadapter.LogHandler {
	var mu sync.Mutex
	return func(e remoteadapter.LogEntry) {
		record := make(map[string]any, len(e.Fields)+3)
		for k, v := range e.Fields {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			record[k] = v
		}
		record["time"] = time.Now().UTC().Format(time.RFC3339Nano)
		record["level"] = remoteadapter.LogLevelToString(e.Level)
		record["msg"] = e.Message
		data, err := json.Marshal(record)
		if err != nil {
			data, _ = json.Marshal(map[string]any{
				"level": remoteadapter.LogLevelToString(e.Level),
				"msg":   e.Message,
				"error": "error encoding log fields: " + err.Error(),
			})
		}
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write(append(data, '\n'))
	}
}
