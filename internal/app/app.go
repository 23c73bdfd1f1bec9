package app

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"emergency-call-console/internal/config"
	"emergency-call-console/internal/observability/logging"
)

// Application holds process-wide state for the console service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
}

// New constructs a new Application from the provided configuration and
// initializes the global logger.
func New(cfg *config.Configuration) *Application {
	logCfg := logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: "json",
	}
	if os.Getenv("ENV") == "dev" {
		logCfg.Format = "console"
	}
	logging.Init(logCfg)

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	a.Logger.Info().
		Str("logLevel", logCfg.Level).
		Str("environment", os.Getenv("ENV")).
		Msg("Emergency call console application created")
	return a
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("wsPort", a.Cfg.Service.WSPort).
		Str("wsPath", a.Cfg.Service.WSPath).
		Msg("Emergency call console starting")
	return nil
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("Emergency call console shutting down")
}
