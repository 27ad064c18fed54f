// Package config owns process-wide configuration: environment-variable
// settings, the JSONC main config file, and the bootstrap logger.
package config

import (
	"fmt"
	"sync"

	"github.com/Laisky/zap"
)

var (
	// Logger is the process-wide structured logger. Safe for concurrent use.
	Logger *zap.Logger

	initLogOnce sync.Once
)

func init() {
	initLogger()
}

func initLogger() {
	initLogOnce.Do(func() {
		var cfg zap.Config
		if DebugEnabled {
			cfg = zap.NewDevelopmentConfig()
		} else {
			cfg = zap.NewProductionConfig()
		}

		logger, err := cfg.Build()
		if err != nil {
			panic(fmt.Sprintf("failed to create logger: %+v", err))
		}
		Logger = logger.Named("arena-bridge")
	})
}
