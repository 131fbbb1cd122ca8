package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/studiocast/studio/internal/client"
	"github.com/studiocast/studio/internal/config"
	"github.com/studiocast/studio/internal/logging"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/store"
	ws "github.com/studiocast/studio/internal/websocket"
	"github.com/studiocast/studio/internal/worker"
)

// App owns the shared connections and services of a Studio process
type App struct {
	Config   *config.Config
	Logger   hclog.Logger
	Redis    *redis.Client
	Store    store.Store
	Queue    *queue.Queue
	Services *Services
	Media    client.MediaProcessor

	relay     *ws.Relay
	policy    queue.Policy
	asynqOpt  asynq.RedisClientOpt
	client    *asynq.Client
	inspector *asynq.Inspector
}

// Build connects to Redis and the store and wires the services
func Build(cfg *config.Config, logger hclog.Logger) (*App, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, rdb)
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	cls, err := classifier(cfg.Confidence)
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("invalid confidence thresholds: %w", err)
	}

	opt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	asynqClient := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)

	policy := QueuePolicy(cfg.Queue)
	relay := ws.NewRelay(rdb, logger)
	dispatcher := queue.NewAsynqDispatcher(asynqClient, inspector, policy, logger)
	q := queue.New(st, dispatcher, logger, queue.WithPolicy(policy), queue.WithNotifier(relay))

	return &App{
		Config:    cfg,
		Logger:    logger,
		Redis:     rdb,
		Store:     st,
		Queue:     q,
		Services:  NewServices(st, q, cls, cfg.EDL.FPS, logger),
		Media:     client.NewMediaProcessor(cfg),
		relay:     relay,
		policy:    policy,
		asynqOpt:  opt,
		client:    asynqClient,
		inspector: inspector,
	}, nil
}

// Runner builds the task runner with every processor registered
func (a *App) Runner() (*worker.Runner, error) {
	storage, err := client.NewStorage(a.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	transcriber := client.NewTranscriber(a.Config)

	r := worker.NewRunner(a.Queue, a.Services.Lifecycle, a.Logger,
		worker.WithCancelWatch(a.Config.Queue.CancelPoll, a.Config.Queue.CancelGrace))
	r.Register(model.JobTypeSync, worker.NewSyncProcessor(a.Store, a.Media, a.Logger))
	r.Register(model.JobTypeEDL, worker.NewEDLProcessor(a.Services.EDL))
	r.Register(model.JobTypeTranscript, worker.NewTranscriptProcessor(a.Store, a.Services.Transcripts, transcriber, a.Logger))
	r.Register(model.JobTypeRender, worker.NewRenderProcessor(a.Services.Renders, a.Media, storage, mediaPoll(a.Config.Media), a.Logger))
	return r, nil
}

// RunAPI serves HTTP until ctx is done
func (a *App) RunAPI(ctx context.Context) error {
	hub := ws.NewHub(a.Logger)
	go hub.Run(ctx)
	go func() {
		if err := a.relay.Subscribe(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error("job update relay stopped", "error", err)
		}
	}()

	app := NewRouter(RouterDeps{
		Config:   a.Config,
		Store:    a.Store,
		Services: a.Services,
		Hub:      hub,
		Redis:    a.Redis,
		Media:    a.Media,
		Logger:   a.Logger,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + a.Config.Server.Port
		a.Logger.Info("starting api", "addr", addr, "env", a.Config.Server.Env)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.Logger.Info("shutting down api")
	return app.ShutdownWithTimeout(10 * time.Second)
}

// RunWorker processes queued jobs until ctx is done
func (a *App) RunWorker(ctx context.Context) error {
	runner, err := a.Runner()
	if err != nil {
		return err
	}

	level := a.Config.Server.LogLevel
	srv := asynq.NewServer(a.asynqOpt, asynq.Config{
		Concurrency:     a.Config.Queue.Concurrency,
		Queues:          queue.QueueWeights(),
		RetryDelayFunc:  a.policy.RetryDelay,
		Logger:          logging.NewAsynqLogger(a.Logger.Named("asynq")),
		LogLevel:        logging.AsynqLevel(level),
		ShutdownTimeout: a.Config.Queue.CancelGrace + 5*time.Second,
	})

	a.Logger.Info("starting worker", "concurrency", a.Config.Queue.Concurrency)
	if err := srv.Start(runner.Mux()); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	<-ctx.Done()
	a.Logger.Info("shutting down worker")
	srv.Shutdown()
	return nil
}

// Close releases connections
func (a *App) Close() {
	if err := a.client.Close(); err != nil {
		a.Logger.Warn("failed to close asynq client", "error", err)
	}
	if err := a.inspector.Close(); err != nil {
		a.Logger.Warn("failed to close asynq inspector", "error", err)
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("failed to close store", "error", err)
	}
	// the redis store owns the shared client
	if _, ok := a.Store.(*store.RedisStore); ok {
		return
	}
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("failed to close redis", "error", err)
	}
}
