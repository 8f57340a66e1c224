package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	LevelInfo LogLevel = iota
	LevelWarning
	LevelError
	LevelDebug
)

// Logger interface for basic logging operations
type Logger interface {
	Printf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// StdLogger implements the Logger interface over a plain writer.
type StdLogger struct {
	writer io.Writer
}

// NewStdLogger creates a new StdLogger
func NewStdLogger(writer io.Writer) *StdLogger {
	return &StdLogger{
		writer: writer,
	}
}

// Printf logs a message with printf formatting
func (l *StdLogger) Printf(format string, args ...interface{}) {
	fmt.Fprintf(l.writer, "[INFO] "+format+"\n", args...)
}

// Errorf logs an error message with printf formatting
func (l *StdLogger) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(l.writer, "[ERROR] "+format+"\n", args...)
}

// Debugf logs a debug message with printf formatting
func (l *StdLogger) Debugf(format string, args ...interface{}) {
	fmt.Fprintf(l.writer, "[DEBUG] "+format+"\n", args...)
}

// ZerologLogger implements the Logger interface on top of zerolog for
// structured output in production.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger writing to the given writer.
func NewZerologLogger(writer io.Writer) *ZerologLogger {
	return &ZerologLogger{
		log: zerolog.New(writer).With().Timestamp().Logger(),
	}
}

// NewConsoleLogger creates a ZerologLogger with human-readable console output.
func NewConsoleLogger(writer io.Writer) *ZerologLogger {
	cw := zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	return &ZerologLogger{
		log: zerolog.New(cw).With().Timestamp().Logger(),
	}
}

// ParseLevel maps a level name onto zerolog's levels. Unknown names fall
// back to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return zerolog.DebugLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithLevel returns a copy of the logger filtered to the given level.
func (l *ZerologLogger) WithLevel(level zerolog.Level) *ZerologLogger {
	return &ZerologLogger{log: l.log.Level(level)}
}

func (l *ZerologLogger) Printf(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *ZerologLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

type DeploymentLogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
}

// DeploymentLogStore keeps a bounded in-memory log per deployment key, for
// operator inspection of recent lifecycle and invocation events.
type DeploymentLogStore struct {
	logs       map[string][]DeploymentLogEntry
	mutex      sync.RWMutex
	maxEntries int
}

// NewDeploymentLogStore creates a new DeploymentLogStore
func NewDeploymentLogStore(maxEntries int) *DeploymentLogStore {
	return &DeploymentLogStore{
		logs:       make(map[string][]DeploymentLogEntry),
		maxEntries: maxEntries,
	}
}

// AddLog adds a log entry for a deployment key.
func (s *DeploymentLogStore) AddLog(deploymentKey string, level LogLevel, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry := DeploymentLogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}

	s.logs[deploymentKey] = append(s.logs[deploymentKey], entry)

	// If we've exceeded the max number of entries, remove the oldest ones
	if len(s.logs[deploymentKey]) > s.maxEntries {
		s.logs[deploymentKey] = s.logs[deploymentKey][len(s.logs[deploymentKey])-s.maxEntries:]
	}
}

// GetLogs retrieves formatted logs for a deployment key.
func (s *DeploymentLogStore) GetLogs(deploymentKey string, since time.Time, tail int) []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entries, exists := s.logs[deploymentKey]
	if !exists {
		return []string{}
	}

	var filtered []DeploymentLogEntry
	if !since.IsZero() {
		for _, entry := range entries {
			if entry.Timestamp.After(since) {
				filtered = append(filtered, entry)
			}
		}
	} else {
		filtered = entries
	}

	if tail > 0 && len(filtered) > tail {
		filtered = filtered[len(filtered)-tail:]
	}

	result := make([]string, len(filtered))
	for i, entry := range filtered {
		levelStr := "INFO"
		switch entry.Level {
		case LevelWarning:
			levelStr = "WARNING"
		case LevelError:
			levelStr = "ERROR"
		case LevelDebug:
			levelStr = "DEBUG"
		}

		result[i] = fmt.Sprintf("[%s] [%s] %s",
			entry.Timestamp.Format(time.RFC3339),
			levelStr,
			entry.Message)
	}

	return result
}

// Remove drops all stored logs for a deployment key.
func (s *DeploymentLogStore) Remove(deploymentKey string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.logs, deploymentKey)
}
