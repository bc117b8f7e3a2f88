package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/serjinio/kmsg-queue/internal/logging"
)

// InitLogger configures the runtime logger and tags every event with app.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
