package xlog

import (
	"os"

	"github.com/rs/zerolog"
)

// zero adapts a zerolog.Logger to the Logger interface.
type zero struct {
	ll zerolog.Logger
}

// NewZero returns a Logger backed by zerolog, writing leveled, structured
// output to stderr. PrettyPrint switches between the console writer and
// raw JSON output.
func NewZero(prettyPrint bool) Logger {
	var w zerolog.ConsoleWriter
	if prettyPrint {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		return zero{ll: zerolog.New(w).With().Timestamp().Logger()}
	}
	return zero{ll: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

func (z zero) Debug(msg string, args ...any) { z.ll.Debug().Msgf(msg, args...) }
func (z zero) Info(msg string, args ...any)  { z.ll.Info().Msgf(msg, args...) }
func (z zero) Warn(msg string, args ...any)  { z.ll.Warn().Msgf(msg, args...) }
func (z zero) Error(msg string, args ...any) { z.ll.Error().Msgf(msg, args...) }

func (z zero) WithField(key string, value any) Logger {
	return zero{ll: z.ll.With().Interface(key, value).Logger()}
}

func (z zero) WithFields(fields Fields) Logger {
	ctx := z.ll.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return zero{ll: ctx.Logger()}
}
