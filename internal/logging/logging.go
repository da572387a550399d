// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup applies cfg to the standard logrus logger. When cfg.File is set,
// output is also written to a rotating file; the returned Closer releases it.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	return configure(logrus.StandardLogger(), cfg, os.Stderr)
}

func configure(logger *logrus.Logger, cfg config.LogConfig, console io.Writer) (io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.File == "" {
		logger.SetOutput(console)
		return nopCloser{}, nil
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	logger.SetOutput(io.MultiWriter(console, file))
	return file, nil
}
