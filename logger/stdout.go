package logger

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/honeycombio/beacon/config"
)

// StdoutLogger is a Logger implementation that sends all logs to stdout using
// the Logrus package to get nice formatting
type StdoutLogger struct {
	Config config.Config `inject:""`

	logger *logrus.Logger
	level  logrus.Level
}

var _ = Logger((*StdoutLogger)(nil))

type StdoutEntry struct {
	entry *logrus.Entry
	level logrus.Level
}

func (s *StdoutLogger) Start() error {
	s.logger = logrus.New()
	s.logger.SetOutput(os.Stdout)
	s.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	s.level = toLogrusLevel(config.WarnLevel)
	if s.Config != nil {
		s.level = toLogrusLevel(s.Config.GetLoggerLevel())
	}
	s.logger.SetLevel(s.level)
	return nil
}

func (s *StdoutLogger) newEntry(level logrus.Level) Entry {
	if s.logger == nil || !s.logger.IsLevelEnabled(level) {
		return nullEntry
	}
	return &StdoutEntry{
		entry: logrus.NewEntry(s.logger),
		level: level,
	}
}

func (s *StdoutLogger) Debug() Entry { return s.newEntry(logrus.DebugLevel) }
func (s *StdoutLogger) Info() Entry  { return s.newEntry(logrus.InfoLevel) }
func (s *StdoutLogger) Warn() Entry  { return s.newEntry(logrus.WarnLevel) }
func (s *StdoutLogger) Error() Entry { return s.newEntry(logrus.ErrorLevel) }

func (s *StdoutLogger) SetLevel(level string) error {
	logrusLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	// record the choice and set it if we're already initialized
	s.level = logrusLevel
	if s.logger != nil {
		s.logger.SetLevel(logrusLevel)
	}
	return nil
}

func (s *StdoutEntry) WithField(key string, value any) Entry {
	return &StdoutEntry{
		entry: s.entry.WithField(key, value),
		level: s.level,
	}
}

func (s *StdoutEntry) WithString(key string, value string) Entry {
	return s.WithField(key, value)
}

func (s *StdoutEntry) WithFields(fields map[string]any) Entry {
	return &StdoutEntry{
		entry: s.entry.WithFields(fields),
		level: s.level,
	}
}

func (s *StdoutEntry) Logf(f string, args ...any) {
	s.entry.Logf(s.level, f, args...)
}

func toLogrusLevel(level config.Level) logrus.Level {
	switch level {
	case config.DebugLevel:
		return logrus.DebugLevel
	case config.InfoLevel:
		return logrus.InfoLevel
	case config.ErrorLevel:
		return logrus.ErrorLevel
	case config.PanicLevel:
		return logrus.PanicLevel
	default:
		return logrus.WarnLevel
	}
}
