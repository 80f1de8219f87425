package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// SlowRequestThresholdMs 慢请求阈值（毫秒）
const SlowRequestThresholdMs = 1000

// LogHelper 扩展 Kratos log.Helper
// 日志调用时自动添加 "type" 字段，触发 EmojiConsoleEncoder 的表情符号映射
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func (h *LogHelper) typed(level log.Level, logType, msg string, kvs []interface{}) {
	allKvs := make([]interface{}, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	allKvs = append(allKvs, "type", logType)

	switch level {
	case log.LevelDebug:
		h.Debugw(allKvs...)
	case log.LevelWarn:
		h.Warnw(allKvs...)
	case log.LevelError:
		h.Errorw(allKvs...)
	default:
		h.Infow(allKvs...)
	}
}

// Breaker 记录熔断器状态变化（⚡）
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	h.typed(log.LevelWarn, "breaker", msg, kvs)
}

// Queue 记录离线队列日志（📦）
func (h *LogHelper) Queue(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "queue", msg, kvs)
}

// Connector 记录 DMS 连接器日志（🔗）
func (h *LogHelper) Connector(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "connector", msg, kvs)
}

// Scheduler 记录定时任务日志（🎯）
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "scheduler", msg, kvs)
}

// Startup 记录启动日志（🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "startup", msg, kvs)
}

// Audit 记录管理操作审计日志（📋）
func (h *LogHelper) Audit(ctx context.Context, action string, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("[%s] %s by %s", reqCtx.RequestID, action, GetOperator(ctx))
	kvs = append(kvs, "request_id", reqCtx.RequestID, "operator", GetOperator(ctx), "action", action)
	h.typed(log.LevelInfo, "audit", msg, kvs)
}

// RequestWithContext 记录 HTTP 请求日志，超过阈值时额外输出慢请求警告
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s", method, url, status, durationMs, reqCtx.RequestID)
	kvs = append(kvs,
		"request_id", reqCtx.RequestID,
		"operator", reqCtx.Operator,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.typed(log.LevelInfo, "request", msg, kvs)

	if durationMs > SlowRequestThresholdMs {
		h.typed(log.LevelWarn, "slow_request",
			fmt.Sprintf("[%s] Slow request detected | %s %s | %s", reqCtx.RequestID, method, url, formatDuration(durationMs)),
			[]interface{}{"request_id", reqCtx.RequestID, "duration_ms", durationMs, "threshold_ms", SlowRequestThresholdMs})
	}
}
