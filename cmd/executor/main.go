package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/golemcloud/golemrt/pkg/config"
	"github.com/golemcloud/golemrt/pkg/database"
	"github.com/golemcloud/golemrt/pkg/invocation"
	"github.com/golemcloud/golemrt/pkg/logger"
	"github.com/golemcloud/golemrt/pkg/metrics"
	"github.com/golemcloud/golemrt/pkg/oplog"
	oplogmigrations "github.com/golemcloud/golemrt/pkg/oplog/migrations"
	"github.com/golemcloud/golemrt/pkg/shard"
	"github.com/golemcloud/golemrt/pkg/telemetry"
	"github.com/golemcloud/golemrt/pkg/worker"
)

// noopActivator satisfies worker.Activator without a real wasm engine,
// since driving guest wasm modules is out of scope for this runtime
// (§5 Non-goals): it exists so this demo binary can exercise
// Activate/Run/Suspend/Fail end to end against a no-op Invoker.
type noopActivator struct{}

func (noopActivator) Instantiate(ctx context.Context, w oplog.WorkerId, componentVersion uint64) (worker.Invoker, error) {
	return noopInvoker{}, nil
}

type noopInvoker struct{}

func (noopInvoker) Invoke(ctx context.Context, functionName string, request []byte) ([]byte, error) {
	return request, nil
}

// staticResolver always routes to the same executor address; a real
// deployment replaces this with a shard-manager client.
type staticResolver struct {
	addr shard.ExecutorAddr
}

func (r staticResolver) Resolve(ctx context.Context, w oplog.WorkerId) (shard.ExecutorAddr, error) {
	return r.addr, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatal("failed to init telemetry", "error", err)
	}
	defer tp.Shutdown(ctx)

	m := metrics.InitMetrics(cfg.Metrics.Namespace, "executor")
	m.SetServiceInfo(cfg.App.Version, cfg.App.Environment)
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil {
				logger.Log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	storage := buildOplogStorage(ctx, cfg)

	resolver := staticResolver{addr: shard.ExecutorAddr(fmt.Sprintf("localhost:%d", cfg.GRPC.Port))}
	transport := shard.NewGRPCTransport(cfg.ShardManager.Timeout, cfg.ShardManager.MaxRetries, cfg.ShardManager.InitialBackoff)
	shardClient := shard.New(shard.Config{
		Self:        oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "executor"},
		SecretKey:   []byte(os.Getenv("GOLEM_SHARD_SECRET")),
		Issuer:      cfg.App.Name,
		DialTimeout: cfg.ShardManager.Timeout,
		MaxRetries:  cfg.ShardManager.MaxRetries,
	}, resolver, transport)
	defer shardClient.Close()

	logger.Log.Info("executor starting",
		"grpc_port", cfg.GRPC.Port,
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	// Demonstrate the full C1-C5 wiring with a single sample worker: a
	// real deployment drives Context.Activate/Run per inbound invocation
	// through the gRPC-exposed WorkerExecutor service instead.
	sample := oplog.WorkerId{ComponentId: uuid.New(), WorkerName: "sample"}
	wc := worker.New(sample, storage, noopActivator{})
	if err := wc.Activate(ctx, 1); err != nil {
		logger.Log.Error("failed to activate sample worker", "error", err)
	} else if err := wc.Queue.Enqueue(ctx, invocationFor("demo::ping")); err != nil {
		logger.Log.Error("failed to enqueue sample invocation", "error", err)
	} else if err := wc.Run(ctx); err != nil {
		logger.Log.Error("sample invocation failed", "error", err)
	}

	// The executor's inbound surface is the shard-to-shard WorkerExecutor
	// RPC fabric (C6), not a public HTTP/gRPC API gateway (§5 Non-goals):
	// this binary has no .proto contract to register a listener against,
	// so it holds the process open until a shutdown signal arrives and
	// lets shardClient (and any Subscribe goroutine a real deployment
	// starts alongside it) keep serving outbound calls in the meantime.
	logger.Log.Info("executor running", "grpc_port", cfg.GRPC.Port)
	<-ctx.Done()
	logger.Log.Info("executor shutting down")
}

func buildOplogStorage(ctx context.Context, cfg *config.Config) oplog.Storage {
	// database.driver defaults to "postgres" (pkg/config/loader.go), so an
	// empty-string check here would never trigger; "memory" is the
	// explicit opt-out for local/dev runs that don't have Postgres handy.
	if cfg.Database.Driver == "memory" {
		return oplog.NewMemoryStorage()
	}

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		logger.Log.Warn("failed to connect to postgres, falling back to in-memory oplog storage", "error", err)
		return oplog.NewMemoryStorage()
	}

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, oplogmigrations.FS, "."); err != nil {
			logger.Fatal("failed to run oplog migrations", "error", err)
		}
	}

	return oplog.NewPostgresStorage(db)
}

func invocationFor(functionName string) invocation.Invocation {
	return invocation.Invocation{
		FunctionName:   functionName,
		IdempotencyKey: oplog.IdempotencyKey(uuid.New().String()),
		EnqueuedAt:     time.Now().UTC(),
	}
}
