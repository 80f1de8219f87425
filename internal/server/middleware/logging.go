package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "ConnectorLane/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// 请求头
const (
	HeaderRequestID = "X-Request-ID"
	HeaderOperator  = "X-Operator"
)

// Logging 返回一个记录 HTTP 请求日志的中间件
// 生成或透传 Request ID，注入操作人，并从 Kratos 错误中提取真实状态码
//
// 日志输出示例:
//
//	🟢 POST /v1/circuit-breakers/reset - 200 (3ms) | RequestID: mgrn0zfqda
//	🐌 [mgrn0zfqda] Slow request detected | POST /v1/queue/process | 13.4s
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				ip        string
				userAgent string
				requestID string
				operator  string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}

					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")
					requestID = httpReq.Header.Get(HeaderRequestID)
					operator = httpReq.Header.Get(HeaderOperator)
				}
			}
			if requestID == "" {
				requestID = pkglog.GenerateRequestID()
			}
			if operator == "" {
				operator = "admin"
			}

			ctx = pkglog.WithRequestContext(ctx, requestID, operator)

			reply, err := handler(ctx, req)

			if tr, ok := transport.FromServerContext(ctx); ok {
				tr.ReplyHeader().Set(HeaderRequestID, requestID)
			}

			duration := time.Since(startTime).Milliseconds()
			logger.RequestWithContext(ctx, method, path, extractHTTPStatus(err), duration,
				"ip", ip,
				"user_agent", userAgent,
			)

			return reply, err
		}
	}
}

// extractClientIP 从请求中提取客户端真实 IP
// 优先级: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}

	return req.RemoteAddr
}

// extractHTTPStatus 从 Kratos 错误中提取 HTTP 状态码
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.FromError(err).Code)
}
