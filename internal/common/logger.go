package common

import (
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const bannerRule = "========================================================="

// NewLogger builds a console logger on stderr. Stdout stays free for CSV.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

// Banner logs a framed section header.
func Banner(log *zap.Logger, title string) {
	log.Info(bannerRule)
	log.Info(title)
	log.Info(bannerRule)
}

// Rule logs the closing line of a banner block.
func Rule(log *zap.Logger) {
	log.Info(bannerRule)
}
