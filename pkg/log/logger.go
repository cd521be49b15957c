package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/t-tomalak/logrus-easy-formatter"
)

var logger *customLogger

// nolint:gochecknoinits
func init() {
	logger = newLogger(os.Stderr)
}

type customLogger struct {
	*logrus.Logger
}

func newLogger(out io.Writer) *customLogger {
	l := &logrus.Logger{
		Out:   out,
		Hooks: make(logrus.LevelHooks),
		Level: logrus.InfoLevel,
		Formatter: &easy.Formatter{
			TimestampFormat: "01-02 15:04:05.000",
			LogFormat:       "[%lvl%]   [%time%]   -   %msg%\r\n",
		},
	}
	return &customLogger{l}
}

// SetLevel
// Set log level:
// DebugLevel = 0
// InfoLevel = 1
// WarnLevel = 2
// ErrorLevel = 3
func SetLevel(lvl int) {
	switch lvl {
	case 0:
		setLevel(logrus.DebugLevel)
	case 2:
		setLevel(logrus.WarnLevel)
	case 3:
		setLevel(logrus.ErrorLevel)
	default:
		setLevel(logrus.InfoLevel)
	}
}

// SetLevelByName accepts the level names used in config files (debug, info, warn, error).
// Unknown names fall back to info.
func SetLevelByName(name string) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(name))
	if err != nil {
		Warnf("unknown log level %q, using info", name)
		lvl = logrus.InfoLevel
	}
	setLevel(lvl)
}

func setLevel(lvl logrus.Level) {
	logger.SetLevel(lvl)
	logger.Infof("log level set to %s.", strings.ToUpper(lvl.String()))
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(out io.Writer) {
	logger.SetOutput(out)
}

// IsDebug reports whether debug lines are emitted.
func IsDebug() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

// WithField returns an entry carrying one structured field.
func WithField(key string, value interface{}) *logrus.Entry {
	return logger.WithField(key, value)
}

// Debug
func Debug(content interface{}) {
	logger.Debug(content)
}

// Debugf
func Debugf(format string, args ...interface{}) {
	if !IsDebug() {
		return
	}
	logger.Debug(fmt.Sprintf(format, args...))
}

// Info
func Info(content interface{}) {
	logger.Info(content)
}

// Infof
func Infof(format string, args ...interface{}) {
	logger.Info(fmt.Sprintf(format, args...))
}

// Warn
func Warn(content interface{}) {
	logger.Warn(content)
}

// Warnf
func Warnf(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf(format, args...))
}

// Error
func Error(content interface{}) {
	logger.Error(content)
}

// Errorf
func Errorf(format string, args ...interface{}) {
	logger.Error(fmt.Sprintf(format, args...))
}

// Fatal
func Fatal(content interface{}) {
	logger.Fatal(content)
}

// Fatalf
func Fatalf(format string, args ...interface{}) {
	logger.Fatal(fmt.Sprintf(format, args...))
}
