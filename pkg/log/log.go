package log

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/config"
)

var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger builds the process logger. Development gets the console
// encoder; everything else logs JSON.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}

	return logger.With(
		zap.String("service", cfg.AppName),
		zap.String("version", cfg.AppVersion),
	), nil
}
