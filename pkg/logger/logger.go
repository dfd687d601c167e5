package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

var (
	globalSugar *zap.SugaredLogger
	globalBase  *zap.Logger
)

// Init initializes a global zap logger. The env can be "production" or "development" (default).
// It also redirects the stdlib log output to zap so existing log.Printf calls are captured.
func Init(env string) (*zap.SugaredLogger, error) {
	if globalSugar != nil && globalBase != nil {
		return globalSugar, nil
	}

	var cfg zap.Config
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(base)
	_ = zap.RedirectStdLog(base)

	globalBase = base
	globalSugar = base.Sugar()
	return globalSugar, nil
}

// L returns the global sugared logger, initializing it on first use.
func L() *zap.SugaredLogger {
	if globalSugar == nil {
		if _, err := Init(os.Getenv("LOG_ENV")); err != nil {
			base, _ := zap.NewDevelopment()
			globalBase = base
			globalSugar = base.Sugar()
		}
	}
	return globalSugar
}

// Base returns the base *zap.Logger (non-sugared).
func Base() *zap.Logger {
	if globalBase == nil {
		if _, err := Init(os.Getenv("LOG_ENV")); err != nil {
			base, _ := zap.NewDevelopment()
			globalBase = base
			globalSugar = base.Sugar()
		}
	}
	return globalBase
}

// Sync flushes any buffered log entries.
func Sync() {
	if globalSugar != nil {
		_ = globalSugar.Sync()
	}
	if globalBase != nil {
		_ = globalBase.Sync()
	}
}

// GORMWriter adapts zap to gorm.io/gorm/logger.Writer, which only speaks Printf.
type GORMWriter struct{}

// Printf implements the gorm logger.Writer interface.
func (w GORMWriter) Printf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	msg = strings.TrimSuffix(msg, "\n")
	msg = strings.TrimSuffix(msg, "\r\n")
	Base().Error(msg)
}

// NewGORMWriter creates a new GORM writer adapter.
func NewGORMWriter() GORMWriter {
	return GORMWriter{}
}
