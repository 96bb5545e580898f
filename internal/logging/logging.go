// Package logging configures the global zerolog logger and bridges pion's logging into it.
package logging

import (
	"io"
	"os"

	"github.com/ArduinoAndWebRTC/webrtc/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs the global logger. The returned closer flushes the file sink, if any.
func Setup(cfg config.LogConfig) io.Closer {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var writers []io.Writer
	if cfg.Console || cfg.File == "" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	var file *lumberjack.Logger
	if cfg.File != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, file)
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level, zerolog.InfoLevel))

	if file == nil {
		return nopCloser{}
	}
	return file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func ParseLevel(s string, fallback zerolog.Level) zerolog.Level {
	if s == "" {
		return fallback
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return fallback
	}
	return lvl
}
