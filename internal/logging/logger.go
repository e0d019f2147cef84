package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls the process logger.
type Config struct {
	Level       string
	Environment string
	Output      io.Writer
}

// New builds the JSON logrus logger shared by every component.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	logger.SetLevel(ParseLogrusLevel(cfg.Level))
	if cfg.Output != nil {
		logger.SetOutput(cfg.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}
	if cfg.Environment == "development" && cfg.Level == "" {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// ParseLogrusLevel converts string level to logrus.Level
func ParseLogrusLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithComponent tags entries with the emitting component.
func WithComponent(logger logrus.FieldLogger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}

// WithRequestID tags entries with the request id of an analysis or HTTP call.
func WithRequestID(logger logrus.FieldLogger, requestID string) *logrus.Entry {
	return logger.WithField("request_id", requestID)
}

// WithForecastKey tags entries with the aggregate key of a forecast.
func WithForecastKey(logger logrus.FieldLogger, instrument, timeframe, model string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"instrument": instrument,
		"timeframe":  timeframe,
		"model":      model,
	})
}

// LogStartup logs application startup information
func LogStartup(logger logrus.FieldLogger, serviceName, version string, port int) {
	logger.WithFields(logrus.Fields{
		"event":   "startup",
		"service": serviceName,
		"version": version,
		"port":    port,
	}).Info("Service starting")
}

// LogShutdown logs application shutdown information
func LogShutdown(logger logrus.FieldLogger, serviceName, reason string) {
	logger.WithFields(logrus.Fields{
		"event":   "shutdown",
		"service": serviceName,
		"reason":  reason,
	}).Info("Service shutting down")
}
