// Package middleware provides HTTP middleware for authentication and request logging.
package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	pkglog "ConnectorLane/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
)

// ErrUnauthorized 管理端 Token 缺失或不匹配
var ErrUnauthorized = errors.Unauthorized("UNAUTHORIZED", "missing or invalid admin token")

// Auth 返回管理端认证中间件
// token 为空时不做校验；否则要求 "Authorization: Bearer {token}"
//
// 日志输出示例:
//
//	🔐 Rejected admin request (token: abcd1234***) | {"type":"auth","operation":"..."}
func Auth(token string, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if token == "" {
				return handler(ctx, req)
			}

			var (
				presented string
				operation string
			)
			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
				// 支持 "Bearer {token}" 格式
				authHeader := tr.RequestHeader().Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					presented = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
				}
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Warnw(
					"msg", "Rejected admin request (token: "+maskToken(presented)+")",
					"operation", operation,
					"request_id", pkglog.GetRequestID(ctx),
					"type", "auth",
				)
				return nil, ErrUnauthorized
			}

			return handler(ctx, req)
		}
	}
}

// maskToken 脱敏 Token，仅显示前 8 位
// 示例: "sk-1234567890abcdef" -> "sk-12345***"
func maskToken(key string) string {
	if key == "" {
		return "<none>"
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "***"
}
