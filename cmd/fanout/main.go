package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fanout needs Redis for pub/sub and the status cache, nothing else
	components, err := bootstrap.Setup(ctx, "fanout",
		bootstrap.WithoutDB(),
		bootstrap.WithoutQueue(),
		bootstrap.WithoutTelemetry(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	log := components.Logger
	if components.Redis == nil {
		log.Error("fanout requires redis for event subscription")
		os.Exit(1)
	}

	hub := NewHub(log)
	go hub.Run(ctx)

	subscriber := NewRedisSubscriber(components.Redis.GetUnderlying(), hub, log)
	go subscriber.Run(ctx)

	srv := NewServer(hub, components.Cache, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWebSocket)
	mux.HandleFunc("/stats", srv.HandleStats)
	mux.HandleFunc("/health", server.HealthHandler())

	// Streaming timeouts keep long-lived watcher connections open; the
	// shutdown hook stops the hub and subscriber before the drain.
	httpSrv := server.New("fanout", components.Config.Service.Port, mux, log,
		server.WithStreaming(),
		server.WithShutdownHook(cancel),
	)
	if err := httpSrv.Start(); err != nil {
		log.Error("server error", "error", err)
	}
}
