package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-can-udp-bridge/internal/bridge"
	"github.com/kstaniek/go-can-udp-bridge/internal/endpoint"
	"github.com/kstaniek/go-can-udp-bridge/internal/metrics"
)

// run wires the configured backend and endpoint into a bridge and blocks
// until a signal arrives or the bridge stops.
func run(parent context.Context, cfg *appConfig) error {
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stop()
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	dev, err := openBackend(cfg, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return err
	}
	ep, err := endpoint.Setup(ctx, cfg.bindAddr, cfg.remoteAddr, endpoint.Options{MulticastTTL: cfg.multicastTTL})
	if err != nil {
		_ = dev.Close()
		l.Error("endpoint_setup_error", "error", err)
		return err
	}
	l.Info("endpoint_ready",
		"local", ep.LocalAddr(),
		"recv", ep.RecvAddr(),
		"remote", ep.Remote(),
		"multicast", ep.Multicast(),
	)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	cleanupMDNS, err := startMDNS(ctx, cfg, int(ep.RecvAddr().Port()), ep.Multicast())
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
	} else {
		if cfg.mdnsEnable {
			l.Info("mdns_started", "service", mdnsServiceType, "port", ep.RecvAddr().Port())
		}
		defer cleanupMDNS()
	}

	b := bridge.New(dev, ep,
		bridge.WithForceAfter(cfg.forceAfter()),
		bridge.WithLogger(l),
	)
	err = b.Run(ctx)
	if err == nil {
		l.Info("shutdown")
	}
	return err
}
