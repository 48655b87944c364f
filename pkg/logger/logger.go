// Package logger builds the collector's structured zerolog logger from
// config.LoggingConfig: console output, an optional rotated file sink, or
// both at once via zerolog.MultiLevelWriter.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration. FilePath/MaxFileSizeMB/BackupCount
// mirror config.LoggingConfig; a blank FilePath disables file output.
type Config struct {
	Level         string // debug, info, warn, error
	Console       bool   // human-readable console output instead of raw JSON
	FilePath      string
	MaxFileSizeMB int
	BackupCount   int
}

// New creates a new structured logger. With both Console and FilePath set
// it writes pretty output to stdout and JSON lines to the rotated file
// simultaneously; with neither, it falls back to JSON on stdout.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	} else if cfg.FilePath == "" {
		writers = append(writers, os.Stdout)
	}
	if cfg.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxFileSizeMB, 100),
			MaxBackups: cfg.BackupCount,
			Compress:   true,
		})
	}

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SetGlobalLogger sets the package-level logger.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
