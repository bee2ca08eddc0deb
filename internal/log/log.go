package log

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging surface used across truckdash.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	// Error logs at ErrorLevel and attaches err, if non-nil, as the "error" field.
	Error(err error, msg string, keysAndValues ...any)
	WithName(name string) Logger
	WithValues(keysAndValues ...any) Logger
	// Sync flushes buffered entries.
	Sync() error
}

var _ Logger = (*zapLogger)(nil)

type zapLogger struct {
	core *zap.Logger
}

// NewLogger builds a zap-backed Logger from opts.
func NewLogger(opts *Options) (Logger, error) {
	if opts == nil {
		opts = NewOptions()
	}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:    "message",
		LevelKey:      "level",
		TimeKey:       "timestamp",
		NameKey:       "logger",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
		EncodeDuration: func(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendFloat64(float64(d) / float64(time.Millisecond))
		},
	}
	if opts.Format == "console" && opts.EnableColor {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	outputPaths := opts.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stderr"}
	}

	cfg := &zap.Config{
		DisableCaller:    opts.DisableCaller,
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         opts.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	core, err := cfg.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	if opts.Name != "" {
		core = core.Named(opts.Name)
	}
	return &zapLogger{core: core}, nil
}

// NewFromZap wraps an existing zap logger.
func NewFromZap(core *zap.Logger) Logger {
	return &zapLogger{core: core}
}

func (z *zapLogger) Debug(msg string, keysAndValues ...any) {
	z.core.Debug(msg, toFields(keysAndValues...)...)
}

func (z *zapLogger) Info(msg string, keysAndValues ...any) {
	z.core.Info(msg, toFields(keysAndValues...)...)
}

func (z *zapLogger) Warn(msg string, keysAndValues ...any) {
	z.core.Warn(msg, toFields(keysAndValues...)...)
}

func (z *zapLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	z.core.Error(msg, fields...)
}

func (z *zapLogger) WithName(name string) Logger {
	return &zapLogger{core: z.core.Named(name)}
}

func (z *zapLogger) WithValues(keysAndValues ...any) Logger {
	return &zapLogger{core: z.core.With(toFields(keysAndValues...)...)}
}

func (z *zapLogger) Sync() error {
	return z.core.Sync()
}

// toFields converts alternating key/value pairs into zap fields.
// A dangling key is kept with a "(MISSING)" value rather than dropped.
func toFields(keysAndValues ...any) []zap.Field {
	fields := make([]zap.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		if i+1 >= len(keysAndValues) {
			fields = append(fields, zap.String(key, "(MISSING)"))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

var (
	mu  sync.RWMutex
	std = NewNopLogger()
)

// SetDefault replaces the process-wide fallback logger.
func SetDefault(l Logger) {
	mu.Lock()
	std = l
	mu.Unlock()
}

// Std returns the process-wide fallback logger.
func Std() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &zapLogger{core: zap.NewNop()}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}
