package log

import (
	"context"
	"crypto/rand"
	"time"
)

type contextKey string

const requestContextKey contextKey = "connectorlane_request_context"

// base36Chars 请求 ID 字符集（小写字母 + 数字）
const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// RequestContext 存储请求追踪信息，随 Context 在 service 与 biz 之间传递
type RequestContext struct {
	RequestID string
	Operator  string // 管理端操作人，来自 X-Operator 头
	Provider  string // 当前请求针对的 DMS 提供方
	StartTime time.Time
}

// GenerateRequestID 生成 10 位 base36 请求 ID，例如 mgrn0zfqda
func GenerateRequestID() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	for i := range b {
		b[i] = base36Chars[int(b[i])%len(base36Chars)]
	}
	return string(b)
}

// WithRequestContext 将 RequestContext 注入到 Context 中
func WithRequestContext(ctx context.Context, requestID, operator string) context.Context {
	return context.WithValue(ctx, requestContextKey, &RequestContext{
		RequestID: requestID,
		Operator:  operator,
		StartTime: time.Now(),
	})
}

// GetRequestContext 从 Context 中提取 RequestContext，不存在时返回默认值
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{RequestID: "unknown", Operator: "system"}
}

// GetRequestID 从 Context 中提取 Request ID
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetOperator 返回发起管理操作的操作人，后台任务为 "system"
func GetOperator(ctx context.Context) string {
	op := GetRequestContext(ctx).Operator
	if op == "" {
		return "system"
	}
	return op
}

// GetElapsedTime 获取请求已执行时间（毫秒）
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
