// Command forest-router runs a Forest overlay-network packet
// forwarding engine: it loads a bootstrap HCL configuration, wires the
// eight router components together, and serves traffic until signaled
// to stop.
//
// Grounded on _examples/grimm-is-glacic's cmd/api.go serve/shutdown
// shape: a flag-parsed config path, an HTTP metrics endpoint started
// in its own goroutine, and a blocking wait on os.Interrupt/SIGTERM
// followed by a bounded-context shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forest.net/router/internal/clock"
	"forest.net/router/internal/forest/comtree"
	"forest.net/router/internal/forest/control"
	"forest.net/router/internal/forest/forward"
	"forest.net/router/internal/forest/iface"
	"forest.net/router/internal/forest/link"
	"forest.net/router/internal/forest/packet"
	"forest.net/router/internal/forest/queue"
	"forest.net/router/internal/forest/route"
	"forest.net/router/internal/forest/substrate"
	"forest.net/router/internal/forest/wire"
	"forest.net/router/internal/logging"
	"forest.net/router/internal/rconfig"
)

const (
	packetStoreSize = 4096
	controlWorkers  = 4
)

func main() {
	configPath := flag.String("config", "/etc/forest-router/router.hcl", "Bootstrap configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus /metrics listen address")
	logJSON := flag.Bool("log-json", false, "Emit structured JSON logs")
	flag.Parse()

	log := logging.New(logging.Config{Level: logging.LevelInfo, JSON: *logJSON, Output: os.Stderr})
	logging.SetDefault(log)

	if err := run(*configPath, *metricsAddr, log); err != nil {
		log.Error("forest-router exited with error", "err", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string, log *logging.Logger) error {
	cfg, err := rconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	myAddr, err := rconfig.ParseForestAddr(cfg.RouterAddr)
	if err != nil {
		return fmt.Errorf("router_addr: %w", err)
	}

	clk := &clock.RealClock{}
	store := packet.New(packetStoreSize, wire.MaxPktLength)
	ifaces := iface.New()
	links := link.New(ifaces)
	routes := route.New(myAddr)
	queues := queue.New(clk)
	comtrees := comtree.New(links, queues, routes)

	ctrl := control.NewHandler(control.Tables{
		Ifaces: ifaces, Links: links, Comtrees: comtrees, Routes: routes, Queues: queues,
	}, controlWorkers)

	if err := rconfig.Apply(cfg, ctrl); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}

	engine := forward.New(myAddr, store, routes, queues, comtrees, nil)
	sub, err := substrate.New(cfg.ListenAddr, myAddr, store, engine, ctrl, substrate.Tables{
		Ifaces: ifaces, Links: links, Comtrees: comtrees, Queues: queues,
	}, clk)
	if err != nil {
		return fmt.Errorf("open substrate socket: %w", err)
	}
	engine.Inbound = sub

	ctrl.Start(controlWorkers)
	defer ctrl.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	sub.Start(ctx)

	metricsSrv := startMetricsServer(metricsAddr, log)

	log.Info("forest-router started", "router_addr", cfg.RouterAddr, "listen_addr", cfg.ListenAddr, "metrics_addr", metricsAddr)
	waitForShutdown(log)

	cancel()
	sub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return metricsSrv.Shutdown(shutdownCtx)
}

func startMetricsServer(addr string, log *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "err", err)
		}
	}()
	return srv
}

func waitForShutdown(log *logging.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down forest-router")
}

