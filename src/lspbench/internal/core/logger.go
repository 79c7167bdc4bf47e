package core

import (
	"os"

	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig is the optional `logging` block of the benchmark config.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// LoggerModule provides the logger dependencies.
var LoggerModule = fx.Options(
	fx.Provide(NewSugaredLogger),
	fx.Provide(NewLogger),
)

// NewLogger desugars the shared logger.
func NewLogger(sugar *zap.SugaredLogger) *zap.Logger {
	return sugar.Desugar()
}

// NewSugaredLogger creates the process logger. Benchmark progress goes to
// stderr so that stdout stays clean for piping artifacts.
func NewSugaredLogger(provider config.Provider) (*zap.SugaredLogger, error) {
	loggingConfig := LoggingConfig{
		Level:    "info",
		Encoding: "console",
	}
	if val := provider.Get("logging"); val.HasValue() {
		if err := val.Populate(&loggingConfig); err != nil {
			return nil, err
		}
	}

	level, err := zapcore.ParseLevel(loggingConfig.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	var encoder zapcore.Encoder
	switch loggingConfig.Encoding {
	case "json":
		encoderConfig = zap.NewProductionEncoderConfig()
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	zapCore := zapcore.NewCore(
		encoder,
		zapcore.AddSync(os.Stderr),
		level,
	)

	return zap.New(zapCore).Sugar(), nil
}
