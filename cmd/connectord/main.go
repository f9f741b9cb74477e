package main

import (
	"context"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"

	svcconfig "github.com/buqixiaomi/socket/internal/config"
	"github.com/buqixiaomi/socket/internal/connector"
	"github.com/buqixiaomi/socket/internal/health"
	"github.com/buqixiaomi/socket/internal/queues"
	"github.com/buqixiaomi/socket/internal/transport"
)

const gracefulShutdownTimeout = 30 * time.Second

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[svcconfig.ServiceConfig](ctx)
	if err != nil {
		util.Log(ctx).WithError(err).Error("could not process configs")
		return
	}

	if err = cfg.Validate(); err != nil {
		util.Log(ctx).WithError(err).Error("invalid configuration")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "connectord"
	}

	ctx, svc := frame.NewServiceWithContext(ctx, frame.WithConfig(&cfg))
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	qManager := svc.QueueManager()
	workMan := svc.WorkManager()

	manager := connector.New(connector.Config{
		Heartbeat:            time.Duration(cfg.HeartbeatSec) * time.Second,
		DispatchWorkers:      cfg.DispatchWorkers,
		ShutdownDrainTimeout: time.Duration(cfg.ShutdownDrainTimeoutSec) * time.Second,
		RegistryCapacity:     cfg.RegistryCapacity,
	}, connector.NewFrameWorkerPool(workMan), clock.New())
	manager.Init(nil)

	deliveryHandler := queues.NewDeliveryHandler(qManager, manager, cfg.QueueOutboundName, cfg.QueueDeadLetterName)

	outboundSubscriber := frame.WithRegisterSubscriber(
		cfg.QueueOutboundName, cfg.QueueOutboundURI, deliveryHandler,
	)
	deadLetterPublisher := frame.WithRegisterPublisher(
		cfg.QueueDeadLetterName, cfg.QueueDeadLetterURI,
	)

	healthHandler := health.NewHandler()
	healthHandler.AddChecker(health.NewRegistryChecker(
		func() (int, int) { return manager.RegistrySize(), cfg.RegistryCapacity },
		cfg.RegistryDegradedRatio,
	))
	healthHandler.AddChecker(health.NewDispatchChecker(manager.DispatchDepth))
	healthHandler.AddChecker(health.NewPingChecker("event_bus", manager.PingEventBus, 2*time.Second))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	svc.Init(ctx, outboundSubscriber, deadLetterPublisher, frame.WithHTTPHandler(mux))

	manager.Start(ctx)
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer drainCancel()
		manager.Shutdown(drainCtx)
	}()

	tcpListener, err := transport.ListenTCP(ctx, cfg.ListenAddr, manager)
	if err != nil {
		log.WithError(err).Fatal("could not start TCP transport listener")
	}
	defer tcpListener.Close()

	wsListener, err := transport.ListenWebSocket(ctx, cfg.WSListenAddr, manager)
	if err != nil {
		log.WithError(err).Fatal("could not start WebSocket transport listener")
	}
	defer wsListener.Close()

	if err = svc.Run(ctx, ""); err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}
