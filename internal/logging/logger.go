// Package logging provides structured logging for the order sync service.
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields carries structured key/value pairs for a log entry.
type Fields map[string]interface{}

// Logger is a zap-backed structured logger scoped to a service component.
type Logger struct {
	z *zap.Logger
}

// NewWithLevel creates a logger for the named component at the given level.
func NewWithLevel(service, level string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.InitialFields = map[string]interface{}{"service": service}

	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func newFromZap(z *zap.Logger) *Logger {
	return &Logger{z: z}
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{z: l.z.With(zap.String("component", component))}
}

// With returns a child logger that always includes the given fields.
func (l *Logger) With(fields Fields) *Logger {
	if len(fields) == 0 {
		return l
	}
	return &Logger{z: l.z.With(toZapFields(fields)...)}
}

// WithContext attaches trace and request identifiers found on ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	fields := Fields{}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields["request_id"] = requestID
	}
	return l.With(fields)
}

func (l *Logger) Debug(msg string, fields ...Fields) {
	l.z.Debug(msg, merge(fields)...)
}

func (l *Logger) Info(msg string, fields ...Fields) {
	l.z.Info(msg, merge(fields)...)
}

func (l *Logger) Warn(msg string, fields ...Fields) {
	l.z.Warn(msg, merge(fields)...)
}

func (l *Logger) Error(msg string, fields ...Fields) {
	l.z.Error(msg, merge(fields)...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, fields ...Fields) {
	l.z.Fatal(msg, merge(fields)...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

func merge(fields []Fields) []zap.Field {
	var out []zap.Field
	for _, f := range fields {
		out = append(out, toZapFields(f)...)
	}
	return out
}

func toZapFields(f Fields) []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}
