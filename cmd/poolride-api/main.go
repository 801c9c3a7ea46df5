// README: Entry point; loads config, wires services, starts HTTP server and the expiry sweep.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"poolride/internal/config"
	"poolride/internal/events"
	httptransport "poolride/internal/http"
	"poolride/internal/infra"
	"poolride/internal/logging"
	"poolride/internal/maps"
	"poolride/internal/modules/driver"
	"poolride/internal/modules/fare"
	"poolride/internal/modules/location"
	"poolride/internal/modules/pool"
	"poolride/internal/notify"
)

func main() {
	if err := run(); err != nil {
		slog.Error("poolride-api exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.NewLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
	if err != nil {
		return err
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return err
	}
	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return err
	}
	locationSvc, err := location.NewFirebaseService(ctx, app)
	if err != nil {
		return err
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr, cfg.Redis.Password)
	defer redisClient.Close()

	sinks := []notify.Sink{{Name: "fcm", Publisher: notify.NewFCMNotifier(messagingClient, locationSvc, locationSvc, log)}}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub := notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaPub.Close()
		sinks = append(sinks, notify.Sink{Name: "kafka", Publisher: kafkaPub})
	}
	publisher := notify.NewFanout(sinks...)
	eventLog := events.NewPGLog(dbPool)

	fareSvc := fare.NewService(fare.NewStore(dbPool), cfg.Fare, log)

	driverSvc := driver.NewService(driver.Deps{
		Repo:      driver.NewStore(dbPool),
		Roles:     infra.NewClaimsRoleLookup(authClient),
		Presence:  locationSvc,
		EventLog:  eventLog,
		Publisher: publisher,
		Log:       log.With("module", "driver"),
		Timeout:   cfg.Pool.StoreTimeout,
	})

	poolDeps := pool.Deps{
		Repo:      pool.NewPGStore(dbPool),
		Index:     pool.NewGeoIndex(redisClient),
		EventLog:  eventLog,
		Publisher: publisher,
		Fares:     fareSvc,
		Drivers:   driverDirectory{drivers: driverSvc},
		Log:       log.With("module", "pool"),
	}
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		poolDeps.Distance = routes
	} else {
		log.Warn("maps api key not set, quoting fares on straight-line distance")
	}
	poolSvc := pool.NewService(cfg.Pool, poolDeps)

	go poolSvc.RunExpirySweep(ctx)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Pools:    poolSvc,
		Drivers:  driverSvc,
		Verifier: infra.NewFirebaseVerifier(authClient),
		Log:      log.With("module", "http"),
	})
	server := httptransport.NewServer(httptransport.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, router, log)
	return server.Run(ctx)
}
