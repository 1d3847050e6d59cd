// Package logger is the engine's structured logger. Engine code logs through
// the package-level helpers with a context, which adds the trace, run and
// branch ids of the work being done.
package logger

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "costengine/internal/core/context"
)

// Logger is a zap SugaredLogger; all of its methods are available.
type Logger struct {
	*zap.SugaredLogger
}

type Config struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoding with colored levels
	OutputPaths []string
}

// New builds a logger. An unknown level falls back to info.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = !cfg.Development
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	zl, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{zl.Sugar()}, nil
}

var (
	fallbackOnce sync.Once
	fallback     *Logger
)

// Default is the JSON logger on stderr used when ctx carries none.
func Default() *Logger {
	fallbackOnce.Do(func() {
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.Lock(os.Stderr),
			zapcore.InfoLevel,
		)
		fallback = &Logger{zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()}
	})
	return fallback
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// WithContext adds the trace and run ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var kv []any
	if t := appctx.GetTrace(ctx); t != nil {
		kv = append(kv, "trace_id", t.TraceID, "request_id", t.RequestID)
	}
	if r := appctx.GetRun(ctx); r != nil {
		kv = append(kv, "run_id", r.RunID)
		if r.BranchID != "" {
			kv = append(kv, "branch_id", r.BranchID)
		}
	}
	if len(kv) == 0 {
		return l
	}
	return &Logger{l.SugaredLogger.With(kv...)}
}

func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{l.SugaredLogger.With(keysAndValues...)}
}

func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

type loggerKey struct{}

func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or Default, enriched with
// the ids in ctx.
func FromContext(ctx context.Context) *Logger {
	l, ok := ctx.Value(loggerKey{}).(*Logger)
	if !ok {
		l = Default()
	}
	return l.WithContext(ctx)
}

func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Debugw(msg, keysAndValues...)
}

func Info(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Infow(msg, keysAndValues...)
}

func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Warnw(msg, keysAndValues...)
}

func Error(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Errorw(msg, keysAndValues...)
}

// Flag logs a data-quality flag at warn level.
func Flag(ctx context.Context, code string, keysAndValues ...any) {
	FromContext(ctx).Warnw("data quality flag", append([]any{"flag", code}, keysAndValues...)...)
}
