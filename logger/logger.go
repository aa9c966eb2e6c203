// Package logger provides leveled logging for the submaster panel,
// backed by op/go-logging with an in-memory ring of recent entries.
package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/op/go-logging"
)

var (
	logger  *logging.Logger
	bufMu   sync.Mutex
	logBuf  []LogEntry
	maxBuf  = 512
)

// LogEntry is a single buffered log record, kept for the admin status API.
type LogEntry struct {
	Time    time.Time     `json:"time"`
	Level   logging.Level `json:"level"`
	Message string        `json:"message"`
}

func init() {
	InitLogger(logging.INFO)
}

// InitLogger configures the process-wide logger at the given level.
func InitLogger(level logging.Level) {
	newLogger := logging.MustGetLogger("submaster")
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(`%{time:2006/01/02 15:04:05} %{level} - %{message}`)
	backendFormatter := logging.NewBackendFormatter(backend, format)
	backendLeveled := logging.AddModuleLevel(backendFormatter)
	backendLeveled.SetLevel(level, "submaster")
	newLogger.SetBackend(backendLeveled)

	logger = newLogger
}

func Debug(args ...any) {
	logger.Debug(args...)
	addToBuffer(logging.DEBUG, fmt.Sprint(args...))
}

func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
	addToBuffer(logging.DEBUG, fmt.Sprintf(format, args...))
}

func Info(args ...any) {
	logger.Info(args...)
	addToBuffer(logging.INFO, fmt.Sprint(args...))
}

func Infof(format string, args ...any) {
	logger.Infof(format, args...)
	addToBuffer(logging.INFO, fmt.Sprintf(format, args...))
}

func Warning(args ...any) {
	logger.Warning(args...)
	addToBuffer(logging.WARNING, fmt.Sprint(args...))
}

func Warningf(format string, args ...any) {
	logger.Warningf(format, args...)
	addToBuffer(logging.WARNING, fmt.Sprintf(format, args...))
}

func Error(args ...any) {
	logger.Error(args...)
	addToBuffer(logging.ERROR, fmt.Sprint(args...))
}

func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
	addToBuffer(logging.ERROR, fmt.Sprintf(format, args...))
}

func addToBuffer(level logging.Level, message string) {
	bufMu.Lock()
	defer bufMu.Unlock()
	if len(logBuf) >= maxBuf {
		logBuf = logBuf[1:]
	}
	logBuf = append(logBuf, LogEntry{Time: time.Now(), Level: level, Message: message})
}

// Recent returns up to count most recent buffered log entries, newest last.
func Recent(count int) []LogEntry {
	bufMu.Lock()
	defer bufMu.Unlock()
	if count <= 0 || count > len(logBuf) {
		count = len(logBuf)
	}
	out := make([]LogEntry, count)
	copy(out, logBuf[len(logBuf)-count:])
	return out
}
