package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogWriter is the writer used for application and database logs.
var LogWriter io.Writer = os.Stdout

// Log is the application logger. It writes to LogWriter once InitLogging has run.
var Log = logrus.New()

// LogFilePath returns the path to the backend log file.
func LogFilePath() string {
	return filepath.Join("logs", "permit-api.log")
}

// InitLogging prepares the log file and points the application logger at stdout and the file.
func InitLogging(settings Settings) (*os.File, io.Writer) {
	configureLogger(settings)

	logPath := filepath.Dir(LogFilePath())
	if err := os.MkdirAll(logPath, os.ModePerm); err != nil {
		Log.WithError(err).Warn("Failed to create logs directory")
	}

	logFile, err := os.OpenFile(LogFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		Log.WithError(err).Warn("Failed to open log file")
		LogWriter = os.Stdout
		Log.SetOutput(LogWriter)
		return nil, LogWriter
	}

	LogWriter = io.MultiWriter(os.Stdout, logFile)
	Log.SetOutput(LogWriter)
	return logFile, LogWriter
}

func configureLogger(settings Settings) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(settings.LogLevel)))
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	if settings.IsProduction() {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
