package logging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes gorm's logs through slog. Bound query parameters are
// dropped so card data never reaches the logs.
type GormLogger struct {
	logger        *slog.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger builds a gorm logger at warn level with a 200ms slow-query threshold.
func NewGormLogger(logger *slog.Logger) *GormLogger {
	return &GormLogger{
		logger:        Component(logger, "gorm"),
		level:         gormlogger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
}

// LogMode returns a logger with the updated level.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level < gormlogger.Info {
		return
	}
	l.logger.InfoContext(ctx, msg, slog.Any("data", data))
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level < gormlogger.Warn {
		return
	}
	l.logger.WarnContext(ctx, msg, slog.Any("data", data))
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level < gormlogger.Error {
		return
	}
	l.logger.ErrorContext(ctx, msg, slog.Any("data", data))
}

// Trace logs failed and slow statements, and every statement at info level.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gormlogger.ErrRecordNotFound):
		l.logQuery(ctx, fc, elapsed, err, slog.LevelError)
	case l.slowThreshold != 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		l.logQuery(ctx, fc, elapsed, nil, slog.LevelWarn)
	case l.level >= gormlogger.Info:
		l.logQuery(ctx, fc, elapsed, nil, slog.LevelDebug)
	}
}

// ParamsFilter strips bound values from logged statements.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}

func (l *GormLogger) logQuery(ctx context.Context, fc func() (string, int64), elapsed time.Duration, err error, level slog.Level) {
	sql, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", strings.TrimSpace(sql)),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		attrs = append(attrs, slog.Int64("rows_affected", rows))
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	l.logger.LogAttrs(ctx, level, "gorm.query", attrs...)
}

var _ gormlogger.Interface = (*GormLogger)(nil)
