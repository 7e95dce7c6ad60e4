package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskloom/taskloom/engine"
	"github.com/taskloom/taskloom/manifest"
	"github.com/taskloom/taskloom/store"
	"github.com/taskloom/taskloom/task"
	"github.com/taskloom/taskloom/telemetry"
)

// Build metadata, injected with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "validate":
		os.Exit(cmdValidate(os.Args[2:]))
	case "version":
		fmt.Printf("taskloom %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: taskloom <command> [flags]

Commands:
  run        execute one task through a workflow manifest
  validate   parse and validate a workflow manifest
  version    print build information

Run "taskloom <command> -h" for command flags.`)
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "path to the workflow manifest (required)")
	request := fs.String("request", "", "task request text (required)")
	mode := fs.String("mode", "", "task mode")
	priority := fs.Int("priority", 0, "task priority, lower runs sooner")
	workers := fs.Int("workers", 0, "worker goroutines, 0 for the default")
	checkpoint := fs.String("checkpoint", "memory", "checkpoint backend: memory, sqlite, redis")
	sqliteDSN := fs.String("sqlite-dsn", "taskloom.db", "SQLite DSN for --checkpoint=sqlite")
	redisAddr := fs.String("redis-addr", "localhost:6379", "Redis address for --checkpoint=redis")
	metricsAddr := fs.String("metrics-addr", "", "expose Prometheus metrics on this address")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	if *manifestPath == "" || *request == "" {
		fmt.Fprintln(os.Stderr, "run requires --manifest and --request")
		return 1
	}

	logger := newLogger(*debug)
	defer func() { _ = logger.Sync() }()

	g, err := manifest.NewLoader().LoadFile(*manifestPath)
	if err != nil {
		logger.Error("manifest rejected", zap.Error(err))
		return 1
	}

	tasks := task.NewStore(logger)
	checkpoints, cleanup, err := newCheckpointStore(*checkpoint, *sqliteDSN, *redisAddr, tasks, logger)
	if err != nil {
		logger.Error("checkpoint store unavailable", zap.Error(err))
		return 1
	}
	defer cleanup()

	sinks := []interface {
		Emit(eventType string, payload map[string]any)
	}{telemetry.NewZapSink(logger)}
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		sinks = append(sinks, telemetry.NewMetricsSink("taskloom", reg))
		go serveMetrics(*metricsAddr, reg, logger)
	}

	eng, err := engine.New(g, tasks, engine.NewHandlerRegistry(), engine.Config{
		Checkpoints: checkpoints,
		Sink:        telemetry.NewMultiSink(sinks...),
		Logger:      logger,
		Workers:     *workers,
	})
	if err != nil {
		logger.Error("engine rejected graph", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	final, err := eng.Execute(ctx, task.Spec{
		Request:  *request,
		Mode:     *mode,
		Priority: *priority,
	})
	if err != nil {
		logger.Error("execution aborted", zap.Error(err))
		return 1
	}

	out, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		logger.Error("encode final task", zap.Error(err))
		return 1
	}
	fmt.Println(string(out))

	if final.Status != task.StatusCompleted {
		return 1
	}
	return 0
}

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "path to the workflow manifest (required)")
	_ = fs.Parse(args)

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "validate requires --manifest")
		return 1
	}

	g, err := manifest.NewLoader().LoadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		return 1
	}
	fmt.Printf("ok: %s (%d nodes, %d edges)\n", g.Name(), g.Len(), len(g.Edges()))
	return 0
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// newCheckpointStore builds the selected checkpoint backend and returns
// it with a release function.
func newCheckpointStore(kind, sqliteDSN, redisAddr string, tasks *task.Store, logger *zap.Logger) (engine.CheckpointStore, func(), error) {
	switch kind {
	case "memory":
		return store.NewMemory(tasks), func() {}, nil

	case "sqlite":
		db, err := store.OpenSQLite(sqliteDSN)
		if err != nil {
			return nil, nil, err
		}
		g, err := store.NewGorm(db, tasks, logger)
		if err != nil {
			return nil, nil, err
		}
		return g, func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		r := store.NewRedis(client, tasks, store.RedisConfig{}, logger)
		if err := r.Ping(context.Background()); err != nil {
			_ = r.Close()
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", kind)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}
