// Package main provides the colony game server binary: the line-protocol
// listener for game clients plus its gRPC health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/colony/internal/config"
	"github.com/cory-johannsen/colony/internal/gameserver"
	"github.com/cory-johannsen/colony/internal/mods"
	"github.com/cory-johannsen/colony/internal/network"
	"github.com/cory-johannsen/colony/internal/observability"
	"github.com/cory-johannsen/colony/internal/server"
	"github.com/cory-johannsen/colony/internal/session"
	"github.com/cory-johannsen/colony/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	healthInterval := flag.Duration("health-interval", 10*time.Second, "interval between health checks")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("addr", cfg.Network.Addr()),
	)

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	modMgr := mods.NewManager(cfg.Mods, logger)
	if err := modMgr.Load(); err != nil {
		logger.Fatal("loading mods", zap.Error(err))
	}

	registry := session.NewRegistry(logger)
	pairings := session.NewPairings()
	world := pool.World()

	gate := gameserver.NewAuthGate(pool.Users(), modMgr, registry, logger)
	visits := gameserver.NewVisitHandler(world, registry, pairings)
	raids := gameserver.NewRaidHandler(world, registry)
	dispatcher := gameserver.NewDispatcher(gate, visits, raids, registry, logger)

	acceptor := network.NewAcceptor(cfg.Network, dispatcher, logger)

	// Added first so the pool closes after every session has ended.
	lifecycle := server.NewLifecycle(logger)
	dbDone := make(chan struct{})
	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			<-dbDone
			return nil
		},
		StopFn: func() {
			pool.Close()
			close(dbDone)
		},
	})
	lifecycle.Add("acceptor", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn: func() {
			acceptor.Stop()
			registry.CloseAll()
		},
	})

	if cfg.Health.Enabled {
		health := server.NewHealthServer(cfg.Health, *healthInterval, logger,
			server.RunningCheck("acceptor", acceptor.IsRunning),
			func(ctx context.Context) error {
				return pool.Health(ctx, 5*time.Second)
			},
		)
		lifecycle.Add("health", health)
	}

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Int("required_mods", len(modMgr.Manifest().Required)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
