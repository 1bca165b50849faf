package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/evalforge/backend/capacity"
	"github.com/evalforge/backend/conf"
	"github.com/evalforge/backend/dispatch"
	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/evbus"
	"github.com/evalforge/backend/evstate"
	httpserver "github.com/evalforge/backend/http"
	"github.com/evalforge/backend/respub"
	"github.com/evalforge/backend/router"
	"github.com/evalforge/backend/sandbox"
	"github.com/evalforge/backend/sandbox/simbox"
	"github.com/evalforge/backend/sandbox/sqsbox"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}
	cfg, err := conf.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.Default()

	limits := eval.DefaultNodeLimits()
	if cfg.Limits.MaxMemKiB > 0 {
		limits.MaxMemKiB = cfg.Limits.MaxMemKiB
	}
	if cfg.Limits.MaxCpuMs > 0 {
		limits.MaxCpuMs = cfg.Limits.MaxCpuMs
	}
	if cfg.Limits.MaxTimeoutSec > 0 {
		limits.MaxTimeoutSec = cfg.Limits.MaxTimeoutSec
	}
	if cfg.Limits.MaxCodeSizeB > 0 {
		limits.MaxCodeSizeB = cfg.Limits.MaxCodeSizeB
	}

	bus := evbus.NewBus(logger)
	machine := evstate.NewMachine(logger, evstate.NewInMemStore())
	bus.Attach(func(ev eval.Event) {
		if _, err := machine.Apply(context.Background(), ev); err != nil {
			logger.Error("failed to apply event", "type", ev.Type(), "error", err)
		}
	})

	var pool capacity.Pool
	switch cfg.Capacity.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Capacity.RedisAddr})
		pool, err = capacity.NewRedisPool(logger, client, "sandbox", cfg.Capacity.Slots)
		if err != nil {
			slog.Error("failed to init redis capacity pool", "error", err)
			os.Exit(1)
		}
	default:
		pool = capacity.NewInMemPool(logger, cfg.Capacity.Slots)
	}

	var provider sandbox.Provider
	switch cfg.Sandbox.Backend {
	case "sqs":
		sqsClient := sqsbox.GetSqsClientFromEnv()
		provider = sqsbox.NewProvider(logger, sqsClient,
			sqsbox.GetJobSqsUrlFromEnv(), sqsbox.GetResponseSqsUrlFromEnv())
	default:
		provider = simbox.NewProvider(logger, nil)
	}

	dispatcher := dispatch.NewDispatcher(
		logger, pool, bus, machine, provider, limits, dispatch.DefaultConfig())

	evalRouter := router.NewRouter(logger, dispatcher, machine, bus, limits, router.Config{
		Workers:        cfg.Router.Workers,
		QueueSLA:       cfg.Router.QueueSLA,
		BackoffInitial: cfg.Router.BackoffInitial,
		BackoffMax:     cfg.Router.BackoffMax,
	})
	evalRouter.Start()
	defer evalRouter.Close()

	var results respub.ResultStore
	var outputs respub.OutputStore
	switch cfg.Results.Backend {
	case "aws":
		results = respub.NewDynamoDbResultTable(
			respub.GetDynamoDbClientFromEnv(cfg.Results.AwsRegion), cfg.Results.DdbTable)
		outputs, err = respub.NewS3OutputStore(cfg.Results.AwsRegion, cfg.Results.OutputBucket)
		if err != nil {
			slog.Error("failed to init s3 output store", "error", err)
			os.Exit(1)
		}
	default:
		results = respub.NewInMemResultStore()
		outputs = respub.NewInMemOutputStore()
	}

	publisher := respub.NewPublisher(logger, results, outputs)
	publisher.AttachTo(bus)
	defer publisher.Close()

	server := httpserver.NewHttpServer(
		evalRouter, machine, bus, results, outputs, cfg.AllowedOrigins)

	log.Printf("Starting server on %s", cfg.ListenAddr)
	err = server.Start(cfg.ListenAddr)
	log.Printf("Server stopped with error: %v", err)
}
