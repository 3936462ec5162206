package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger: JSON encoding, ISO8601 timestamps, level
// parsed from the given string (falls back to info).
func New(level string) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	parsed := zapcore.InfoLevel
	if err := parsed.Set(level); err != nil {
		parsed = zapcore.InfoLevel
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(zapcore.Lock(os.Stdout)),
		parsed,
	)
	return zap.New(core, zap.AddCaller())
}
