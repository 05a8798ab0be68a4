package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/poonpunokok/gtp2ogs/internal/adapters"
	"github.com/poonpunokok/gtp2ogs/internal/bootstrap"
	"github.com/poonpunokok/gtp2ogs/internal/delivery/status"
	"github.com/poonpunokok/gtp2ogs/internal/ogs"
	"github.com/poonpunokok/gtp2ogs/internal/pool"
	"github.com/poonpunokok/gtp2ogs/internal/repository"
	"github.com/poonpunokok/gtp2ogs/internal/session"
)

func main() {
	cfgPath := flag.String("config", "gtp2ogs.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := bootstrap.Setup(*cfgPath)
	if err != nil {
		// The logger depends on the config, so this one goes to stderr.
		panicLogger().Fatalf("failed to setup configuration: %v", err)
	}

	logger := NewLogger(cfg)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleShutdown(cancel, logger)

	records := initRecordStore(ctx, cfg, logger)

	pools := pool.NewPools(cfg, logger)
	go func() {
		if err := pools.Start(ctx); err != nil {
			logger.Fatalf("failed to start engine pools: %v", err)
		}
	}()
	defer pools.Shutdown()

	rest := ogs.NewRestClient(cfg.RestURL, cfg.Apikey, logger)
	controller := session.NewController(cfg, pools, rest, records, logger)
	socket := ogs.NewSocket(cfg.ServerURL, controller, logger)
	controller.SetTransport(socket)

	if cfg.StatusPort != "" {
		go serveStatus(cfg, controller, pools, logger)
	}

	go controller.Run(ctx)
	go func() {
		_ = socket.Run(ctx)
	}()

	select {
	case err := <-controller.Fatal():
		logger.Errorf("fatal: %v", err)
		pools.Shutdown()
		os.Exit(1)
	case <-ctx.Done():
	}
}

func NewLogger(cfg *bootstrap.Config) *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if cfg.Debug || cfg.Verbosity > 0 {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger.Sugar()
}

func panicLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger.Sugar()
}

func initRecordStore(ctx context.Context, cfg *bootstrap.Config, log *zap.SugaredLogger) *repository.GameRecordStore {
	if cfg.RedisUrl == "" {
		return nil
	}
	redisAdapter := adapters.NewAdapterRedis(cfg)
	if err := redisAdapter.Init(ctx); err != nil {
		log.Warnf("record store disabled: %v", err)
		return nil
	}
	log.Info("record store connected")
	return repository.NewGameRecordStore(redisAdapter.GetClient(), log)
}

func serveStatus(cfg *bootstrap.Config, controller *session.Controller, pools *pool.Pools, log *zap.SugaredLogger) {
	handler := status.NewHandler(controller, pools, log)
	addr := ":" + cfg.StatusPort
	log.Infof("status endpoint on %s", addr)
	if err := http.ListenAndServe(addr, handler.Router()); err != nil {
		log.Errorf("status endpoint failed: %v", err)
	}
}

func handleShutdown(cancelFunc context.CancelFunc, log *zap.SugaredLogger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("received shutdown signal")
	cancelFunc()
	time.Sleep(1 * time.Second) // give engines time to quit
}
