package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/kstaniek/go-can-udp-bridge/internal/cnl"
)

const mdnsServiceType = "_cannelloni._udp"

// registerMDNS is a hook for tests.
var registerMDNS = func(instance, service string, port int, txt []string) (func(), error) {
	svc, err := zeroconf.Register(instance, service, "local.", port, txt, nil)
	if err != nil {
		return nil, err
	}
	return svc.Shutdown, nil
}

// mdnsTXT describes the bridge to browsers of the service.
func mdnsTXT(cfg *appConfig, multicast bool) []string {
	mode := "unicast"
	if multicast {
		mode = "multicast"
	}
	txt := []string{
		"backend=" + cfg.backend,
		"mode=" + mode,
		"proto=" + strconv.Itoa(cnl.Version),
		"version=" + version,
		"commit=" + commit,
	}
	if cfg.backend == "socketcan" {
		txt = append(txt, "can="+cfg.canIf)
	}
	return txt
}

// startMDNS advertises the bridge on port and returns a cleanup function.
// It is safe to call even if disabled (no-op).
func startMDNS(ctx context.Context, cfg *appConfig, port int, multicast bool) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("can-udp-bridge-%s", host)
	}
	shutdown, err := registerMDNS(instance, mdnsServiceType, port, mdnsTXT(cfg, multicast))
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}
