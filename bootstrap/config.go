package bootstrap

import (
	"fmt"
	"os"

	"appboot/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger before configuration is available:
// sub-error output on stdout, errors on stderr, both colored.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	return buildLogger(parseLevel(level), "-", "-")
}

// LoggerFromConfig rebuilds the logger with the configured level and
// access/error log targets. "-" keeps console output.
func LoggerFromConfig(cfg *config.Config) (*zap.Logger, *zap.SugaredLogger, error) {
	return buildLogger(parseLevel(cfg.Logging.Level), cfg.Logging.AccessLog, cfg.Logging.ErrorLog)
}

func parseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	return lvl
}

// buildLogger tees two cores: entries below error level go to the access
// target, error and above to the error target.
func buildLogger(lvl zapcore.Level, accessTarget, errorTarget string) (*zap.Logger, *zap.SugaredLogger, error) {
	accessSink, accessEnc, err := openLogSink(accessTarget, os.Stdout)
	if err != nil {
		return nil, nil, err
	}
	errorSink, errorEnc, err := openLogSink(errorTarget, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	accessEnabler := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= lvl && l < zapcore.ErrorLevel
	})
	errorEnabler := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= lvl && l >= zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(accessEnc, accessSink, accessEnabler),
		zapcore.NewCore(errorEnc, errorSink, errorEnabler),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// openLogSink resolves a log target: "-" means the given console stream
// with colored levels, anything else appends to the named file without
// color codes.
func openLogSink(target string, console *os.File) (zapcore.WriteSyncer, zapcore.Encoder, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	if target == "" || target == "-" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.AddSync(console), zapcore.NewConsoleEncoder(encoderConfig), nil
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log target %s: %w", target, err)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.AddSync(f), zapcore.NewConsoleEncoder(encoderConfig), nil
}

// InitConfig loads and validates the application configuration.
func InitConfig(sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}

	sugar.Infow("Startup mode",
		"mode", string(cfg.StartupMode),
		"description", func() string {
			if cfg.StartupMode == config.StartupModeGraceful {
				return "will continue past non-critical errors with warnings"
			}
			return "will fail fast on any step error"
		}())

	sugar.Infow("Config loaded",
		"serve_mode", string(cfg.Mode),
		"database_driver", cfg.Database.Driver,
		"bind", cfg.Server.Bind,
		"workers", cfg.Server.Workers,
		"static_root", cfg.Static.Root)

	return cfg, nil
}
