package server

import (
	"ConnectorLane/internal/conf"
	"ConnectorLane/internal/metrics"
	"ConnectorLane/internal/server/middleware"
	"ConnectorLane/internal/service"
	pkglog "ConnectorLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, mc *conf.Metrics, connectorService *service.ConnectorService, collector metrics.Collector, logger log.Logger) *http.Server {
	// 创建增强的日志辅助器
	logHelper := pkglog.NewLogHelper(logger)

	adminToken := ""
	if c.HTTP != nil {
		adminToken = c.HTTP.AdminToken
	}
	if adminToken == "" {
		logHelper.Warnw("msg", "admin token not configured, admin API is unauthenticated")
	}

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),          // 请求日志中间件：记录请求方法、路径、状态码、耗时
			middleware.Auth(adminToken, logHelper), // 认证中间件：校验管理端 Bearer Token
		),
	}
	if c.HTTP != nil {
		if c.HTTP.Network != "" {
			opts = append(opts, http.Network(c.HTTP.Network))
		}
		if c.HTTP.Addr != "" {
			opts = append(opts, http.Address(c.HTTP.Addr))
		}
		if c.HTTP.Timeout > 0 {
			opts = append(opts, http.Timeout(c.HTTP.Timeout))
		}
	}
	srv := http.NewServer(opts...)

	// Register HTTP services
	service.RegisterConnectorServiceHTTPServer(srv, connectorService)

	if mc != nil && mc.Enabled {
		path := mc.Path
		if path == "" {
			path = "/metrics"
		}
		srv.Handle(path, collector.Handler())
	}

	return srv
}
