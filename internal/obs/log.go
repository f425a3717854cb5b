package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Log emits a structured JSON log line. A timestamp is added when missing.
func Log(entry map[string]any) {
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// Info logs a message at level info with optional fields.
func Info(msg string, fields map[string]any) { logWith("info", msg, fields) }

// Warn logs a message at level warn with optional fields.
func Warn(msg string, fields map[string]any) { logWith("warn", msg, fields) }

// Error logs a message at level error with optional fields.
func Error(msg string, fields map[string]any) { logWith("error", msg, fields) }

func logWith(level, msg string, fields map[string]any) {
	entry := map[string]any{"level": level, "msg": msg}
	for k, v := range fields {
		entry[k] = v
	}
	Log(entry)
}
