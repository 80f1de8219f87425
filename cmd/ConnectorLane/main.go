// Package main is the entry point of the ConnectorLane service.
// It initializes the Kratos application with the admin HTTP server and the
// offline queue scheduler.
package main

import (
	"context"
	"flag"
	"os"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"
	zapLogger "ConnectorLane/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "connectorlane"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(bc *conf.Bootstrap, logger log.Logger, hs *http.Server, manager *biz.ConnectorManager, scheduler *Scheduler) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
		kratos.BeforeStart(func(ctx context.Context) error {
			bootstrapConnectors(ctx, bc, manager, logger)
			return nil
		}),
		kratos.AfterStart(func(context.Context) error {
			scheduler.Start()
			return nil
		}),
		kratos.BeforeStop(func(ctx context.Context) error {
			scheduler.Stop(ctx)
			manager.Shutdown(ctx)
			return nil
		}),
	)
}

// bootstrapConnectors initializes the connectors listed in the config file and
// then those stored for the configured organization. Failures are logged and
// never stop startup; the breakers and the offline queue absorb them.
func bootstrapConnectors(ctx context.Context, bc *conf.Bootstrap, manager *biz.ConnectorManager, logger log.Logger) {
	helper := zapLogger.NewLogHelper(logger)

	static := make([]*biz.ConnectorConfig, 0, len(bc.Connectors))
	for _, c := range bc.Connectors {
		if c == nil {
			continue
		}
		static = append(static, &biz.ConnectorConfig{
			Provider:    c.Provider,
			BaseURL:     c.BaseURL,
			APIKey:      c.APIKey,
			Username:    c.Username,
			Password:    c.Password,
			DealerCode:  c.DealerCode,
			ProxyURL:    c.ProxyURL,
			Environment: c.Environment,
			Enabled:     c.Enabled,
		})
	}
	if len(static) > 0 {
		n := manager.InitializeAll(ctx, static)
		helper.Startup("static connectors initialized", "configured", len(static), "initialized", n)
	}

	if bc.Connector == nil || bc.Connector.OrganizationID == "" {
		return
	}
	n, err := manager.LoadFromDatabase(ctx, bc.Connector.OrganizationID)
	if err != nil {
		helper.Errorw("msg", "failed to load integrations at startup",
			"organization_id", bc.Connector.OrganizationID,
			"error", err)
		return
	}
	helper.Startup("integrations loaded", "organization_id", bc.Connector.OrganizationID, "initialized", n)
}

func main() {
	flag.Parse()

	// Load configuration using Viper with environment variable and CLI flag support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize Zap logger from configuration
	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	// Create Kratos adapter for Zap logger
	logger := zapLogger.NewKratosAdapter(zapLog)

	// Add context fields to logger
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	// Log startup configuration
	zapLogger.NewLogHelper(logger).Startup("ConnectorLane service starting",
		"http.addr", bc.Server.HTTP.Addr,
		"queue.store", bc.Queue.Store,
		"queue.key", bc.Queue.Key,
		"breaker.failure_threshold", bc.Breaker.FailureThreshold,
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
	)

	app, cleanup, err := wireApp(bc, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
