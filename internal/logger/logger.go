// Package logger 基于 log/slog 的 JSON 结构化日志，并通过 context.Context 传递周期 id
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

const cycleIDKey ctxKey = "cycle_id"

// Init 创建进程日志并设为 slog 默认日志
func Init(service string, level slog.Level) *slog.Logger {
	return New(os.Stdout, service, level)
}

// New 创建写入 w 的 JSON 日志
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	l := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(l)
	return l
}

// ParseLevel 将 LOG_LEVEL 映射为 slog 级别，未知值按 info 处理
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCycleID 在 ctx 中记录周期 id
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// CycleID 读取 ctx 中的周期 id，没有时返回空串
func CycleID(ctx context.Context) string {
	if v, ok := ctx.Value(cycleIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext 为 l 附加 ctx 中的周期 id。
// 用法：logger.FromContext(ctx, log).Info("collected", "items", n)
func FromContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if id := CycleID(ctx); id != "" {
		return l.With(slog.String("cycle_id", id))
	}
	return l
}

// Discard 丢弃全部输出的日志，测试使用
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
