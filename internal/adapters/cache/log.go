package cache

import (
	"context"

	"github.com/rs/zerolog"
)

// LogInvalidator only records that an invalidation happened. It is used when
// no cache backend is configured.
type LogInvalidator struct {
	log zerolog.Logger
}

func NewLogInvalidator(log zerolog.Logger) *LogInvalidator {
	return &LogInvalidator{log: log.With().Str("component", "cache").Logger()}
}

func (l *LogInvalidator) Invalidate(context.Context) error {
	l.log.Debug().Str("scope", DefaultListPrefix).Msg("occurrence list cache invalidated")
	return nil
}
