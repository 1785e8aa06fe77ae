package log

import (
	"context"
	"io"
	"os"
	"time"

	F "github.com/sagernet/sing/common/format"
)

var std ContextLogger = &stdLogger{
	formatter: Formatter{BaseTime: time.Now()},
	writer:    os.Stderr,
}

// StdLogger returns the process-wide fallback logger, used before a
// configured Factory is available.
func StdLogger() ContextLogger {
	return std
}

func SetStdLogger(logger ContextLogger) {
	std = logger
}

// NewStdLogger returns a logger in the fallback style: synchronous,
// untagged, writing to standard error.
func NewStdLogger(formatter Formatter) ContextLogger {
	return &stdLogger{
		formatter: formatter,
		writer:    os.Stderr,
	}
}

func Trace(args ...any) {
	std.Trace(args...)
}

func Debug(args ...any) {
	std.Debug(args...)
}

func Info(args ...any) {
	std.Info(args...)
}

func Warn(args ...any) {
	std.Warn(args...)
}

func Error(args ...any) {
	std.Error(args...)
}

func Fatal(args ...any) {
	std.Fatal(args...)
}

func Panic(args ...any) {
	std.Panic(args...)
}

// stdLogger writes synchronously, so a Fatal message is flushed before the
// process exits.
type stdLogger struct {
	formatter Formatter
	writer    io.Writer
}

func (l *stdLogger) log(ctx context.Context, level Level, args []any) {
	message := l.formatter.Format(ctx, level, "", F.ToString(args...), time.Now())
	if level == LevelPanic {
		panic(message)
	}
	l.writer.Write([]byte(message))
	if level == LevelFatal {
		os.Exit(1)
	}
}

func (l *stdLogger) Trace(args ...any) {
	l.log(context.Background(), LevelTrace, args)
}

func (l *stdLogger) Debug(args ...any) {
	l.log(context.Background(), LevelDebug, args)
}

func (l *stdLogger) Info(args ...any) {
	l.log(context.Background(), LevelInfo, args)
}

func (l *stdLogger) Warn(args ...any) {
	l.log(context.Background(), LevelWarn, args)
}

func (l *stdLogger) Error(args ...any) {
	l.log(context.Background(), LevelError, args)
}

func (l *stdLogger) Fatal(args ...any) {
	l.log(context.Background(), LevelFatal, args)
}

func (l *stdLogger) Panic(args ...any) {
	l.log(context.Background(), LevelPanic, args)
}

func (l *stdLogger) TraceContext(ctx context.Context, args ...any) {
	l.log(ctx, LevelTrace, args)
}

func (l *stdLogger) DebugContext(ctx context.Context, args ...any) {
	l.log(ctx, LevelDebug, args)
}

func (l *stdLogger) InfoContext(ctx context.Context, args ...any) {
	l.log(ctx, LevelInfo, args)
}

func (l *stdLogger) WarnContext(ctx context.Context, args ...any) {
	l.log(ctx, LevelWarn, args)
}

func (l *stdLogger) ErrorContext(ctx context.Context, args ...any) {
	l.log(ctx, LevelError, args)
}

func (l *stdLogger) FatalContext(ctx context.Context, args ...any) {
	l.log(ctx, LevelFatal, args)
}

func (l *stdLogger) PanicContext(ctx context.Context, args ...any) {
	l.log(ctx, LevelPanic, args)
}
