package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component returns the global logger scoped to one endpoint.
func Component(name string) zerolog.Logger {
	return log.With().Str("endpoint", name).Logger()
}
