package lumidb

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging surface lumidb and the planner write
// through, grounded on the teacher's logger.go.
type Logger interface {
	Error(ctx context.Context, msg string, err error, tags map[string]any)
	Info(ctx context.Context, msg string, tags map[string]any)
	Debug(ctx context.Context, msg string, tags map[string]any)
	Warn(ctx context.Context, msg string, tags map[string]any)
}

type zapLogger struct {
	logger *zap.Logger
}

// NewLogger returns a structured json logger at the given level with the
// given default fields attached to every record.
func NewLogger(level string, defaultFields map[string]any) (Logger, error) {
	cfg := zap.NewProductionConfig()
	opts := []zap.Option{
		zap.WithCaller(true),
		zap.AddCallerSkip(1),
	}
	for k, v := range defaultFields {
		opts = append(opts, zap.Fields(zap.Any(k, v)))
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, err
	}
	return &zapLogger{logger: logger}, nil
}

func (z *zapLogger) Error(_ context.Context, msg string, err error, tags map[string]any) {
	fields := []zap.Field{zap.Error(err)}
	for k, v := range tags {
		fields = append(fields, zap.Any(k, v))
	}
	z.logger.Error(msg, fields...)
}

func (z *zapLogger) Info(_ context.Context, msg string, tags map[string]any) {
	z.logger.Info(msg, toFields(tags)...)
}

func (z *zapLogger) Debug(_ context.Context, msg string, tags map[string]any) {
	z.logger.Debug(msg, toFields(tags)...)
}

func (z *zapLogger) Warn(_ context.Context, msg string, tags map[string]any) {
	z.logger.Warn(msg, toFields(tags)...)
}

func toFields(tags map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(tags))
	for k, v := range tags {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

func parseLevel(level string) zapcore.Level {
	levels := map[string]zapcore.Level{
		"error":   zap.ErrorLevel,
		"warn":    zap.WarnLevel,
		"warning": zap.WarnLevel,
		"info":    zap.InfoLevel,
		"debug":   zap.DebugLevel,
	}
	l, ok := levels[strings.ToLower(level)]
	if !ok {
		return zap.InfoLevel
	}
	return l
}
