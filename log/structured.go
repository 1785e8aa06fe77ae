package log

import (
	"context"
)

// WithResolveEvent creates a log entry with resolve event data
func WithResolveEvent(logger ContextLogger, ctx context.Context, level Level, event *ResolveEvent, args ...any) {
	if ml, ok := logger.(*multiOutputLogger); ok {
		ml.LogWithEvent(ctx, level, event.ToStructuredEvent(), args)
	} else {
		// Fallback to regular logging (without event data)
		logWithLevel(logger, ctx, level, args)
	}
}

// WithSelectionEvent creates a log entry with selection event data
func WithSelectionEvent(logger ContextLogger, ctx context.Context, level Level, event *SelectionEvent, args ...any) {
	if ml, ok := logger.(*multiOutputLogger); ok {
		ml.LogWithEvent(ctx, level, event.ToStructuredEvent(), args)
	} else {
		// Fallback to regular logging (without event data)
		logWithLevel(logger, ctx, level, args)
	}
}

// WithListUpdateEvent creates a log entry with list update event data
func WithListUpdateEvent(logger ContextLogger, ctx context.Context, level Level, event *ListUpdateEvent, args ...any) {
	if ml, ok := logger.(*multiOutputLogger); ok {
		ml.LogWithEvent(ctx, level, event.ToStructuredEvent(), args)
	} else {
		// Fallback to regular logging (without event data)
		logWithLevel(logger, ctx, level, args)
	}
}

// WithProbeEvent creates a log entry with probe event data
func WithProbeEvent(logger ContextLogger, ctx context.Context, level Level, event *ProbeEvent, args ...any) {
	if ml, ok := logger.(*multiOutputLogger); ok {
		ml.LogWithEvent(ctx, level, event.ToStructuredEvent(), args)
	} else {
		// Fallback to regular logging (without event data)
		logWithLevel(logger, ctx, level, args)
	}
}

// logWithLevel calls the appropriate logging method based on level
func logWithLevel(logger ContextLogger, ctx context.Context, level Level, args []any) {
	switch level {
	case LevelTrace:
		logger.TraceContext(ctx, args...)
	case LevelDebug:
		logger.DebugContext(ctx, args...)
	case LevelInfo:
		logger.InfoContext(ctx, args...)
	case LevelWarn:
		logger.WarnContext(ctx, args...)
	case LevelError:
		logger.ErrorContext(ctx, args...)
	case LevelFatal:
		logger.FatalContext(ctx, args...)
	case LevelPanic:
		logger.PanicContext(ctx, args...)
	default:
		logger.InfoContext(ctx, args...)
	}
}

// ToStructuredEvent converts ResolveEvent to StructuredEvent
func (e *ResolveEvent) ToStructuredEvent() *StructuredEvent {
	return &StructuredEvent{
		Type: EventTypeResolve,
		Data: e.ToMap(),
	}
}

// ToStructuredEvent converts SelectionEvent to StructuredEvent
func (e *SelectionEvent) ToStructuredEvent() *StructuredEvent {
	return &StructuredEvent{
		Type: EventTypeSelection,
		Data: e.ToMap(),
	}
}

// ToStructuredEvent converts ListUpdateEvent to StructuredEvent
func (e *ListUpdateEvent) ToStructuredEvent() *StructuredEvent {
	return &StructuredEvent{
		Type: EventTypeListUpdate,
		Data: e.ToMap(),
	}
}

// ToStructuredEvent converts ProbeEvent to StructuredEvent
func (e *ProbeEvent) ToStructuredEvent() *StructuredEvent {
	return &StructuredEvent{
		Type: EventTypeProbe,
		Data: e.ToMap(),
	}
}
