package observability

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON console logger teed with the OpenTelemetry log
// bridge. Call it after Setup so the bridge picks up the installed
// LoggerProvider.
func NewLogger(serviceName string, level zapcore.Level) *zap.Logger {
	otelCore := otelzap.NewCore(serviceName,
		otelzap.WithLoggerProvider(global.GetLoggerProvider()),
	)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		level,
	)

	return zap.New(zapcore.NewTee(levelFilter(otelCore, level), consoleCore),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", serviceName)),
	)
}

// levelFilter drops entries below level before they reach core.
func levelFilter(core zapcore.Core, level zapcore.LevelEnabler) zapcore.Core {
	return &filteredCore{Core: core, level: level}
}

type filteredCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (c *filteredCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c *filteredCore) With(fields []zapcore.Field) zapcore.Core {
	return &filteredCore{Core: c.Core.With(fields), level: c.level}
}

func (c *filteredCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}
