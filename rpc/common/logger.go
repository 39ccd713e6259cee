package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// zapLogger implements the ILogger interface on top of a zap logger
type zapLogger struct {
	level zap.AtomicLevel
	log   *zap.SugaredLogger
}

func (l *zapLogger) SetLevel(level logger.LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

func (l *zapLogger) Debugf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

func (l *zapLogger) Infof(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

func (l *zapLogger) Warningf(format string, args ...interface{}) {
	l.log.Warnf(format, args...)
}

func (l *zapLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

func (l *zapLogger) Panicf(format string, args ...interface{}) {
	l.log.Panicf(format, args...)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLoggerFactory returns a dragonboat logger factory writing to stdout.
// format is either "console" or "json".
func CreateLoggerFactory(format string) logger.Factory {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(format) == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}
	out := zapcore.Lock(os.Stdout)

	return func(pkgName string) logger.ILogger {
		level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		core := zapcore.NewCore(encoder.Clone(), out, level)
		return &zapLogger{
			level: level,
			log:   zap.New(core).Named(pkgName).Sugar(),
		}
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

func toZapLevel(level logger.LogLevel) zapcore.Level {
	switch level {
	case logger.DEBUG:
		return zapcore.DebugLevel
	case logger.INFO:
		return zapcore.InfoLevel
	case logger.WARNING:
		return zapcore.WarnLevel
	case logger.ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggerNames are the loggers configured by InitLoggers
var loggerNames = []string{
	// dragonboat
	"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb",
	// dDoc
	"replica", "snapshot", "trxhandler", "stream", "docstore", "cluster", "rpc", "transport/rpc",
}

// InitLoggers installs the zap logger factory and sets the level of all loggers
func InitLoggers(level, format string) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	// Set as the global logger factory for Dragonboat
	logger.SetLoggerFactory(CreateLoggerFactory(format))

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(logLevel)
	}
	return nil
}
