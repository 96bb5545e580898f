package logging

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PionFactory hands pion a scoped zerolog logger per subsystem.
type PionFactory struct {
	level zerolog.Level
}

func NewPionFactory(level string) *PionFactory {
	return &PionFactory{level: ParseLevel(level, zerolog.WarnLevel)}
}

func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	l := log.Logger.Level(f.level).With().Str("module", "pion").Str("scope", scope).Logger()
	return pionLogger{log: l}
}

type pionLogger struct {
	log zerolog.Logger
}

func (p pionLogger) Trace(msg string) { p.log.Trace().Msg(msg) }

func (p pionLogger) Tracef(format string, args ...interface{}) { p.log.Trace().Msgf(format, args...) }

func (p pionLogger) Debug(msg string) { p.log.Debug().Msg(msg) }

func (p pionLogger) Debugf(format string, args ...interface{}) { p.log.Debug().Msgf(format, args...) }

func (p pionLogger) Info(msg string) { p.log.Info().Msg(msg) }

func (p pionLogger) Infof(format string, args ...interface{}) { p.log.Info().Msgf(format, args...) }

func (p pionLogger) Warn(msg string) { p.log.Warn().Msg(msg) }

func (p pionLogger) Warnf(format string, args ...interface{}) { p.log.Warn().Msgf(format, args...) }

func (p pionLogger) Error(msg string) { p.log.Error().Msg(msg) }

func (p pionLogger) Errorf(format string, args ...interface{}) { p.log.Error().Msgf(format, args...) }
