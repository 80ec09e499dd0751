package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-can-udp-bridge/internal/bridge"
	"github.com/kstaniek/go-can-udp-bridge/internal/serial"
	"github.com/kstaniek/go-can-udp-bridge/internal/socketcan"
)

// Hooks for tests (overridden in unit tests).
var (
	openSocketCANDevice = func(iface string, fd bool) (bridge.Device, error) {
		d, err := socketcan.Open(iface, fd)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	openSerialPort = serial.Open
)

// openBackend opens the CAN device selected by cfg.backend.
func openBackend(cfg *appConfig, l *slog.Logger) (bridge.Device, error) {
	switch cfg.backend {
	case "socketcan":
		dev, err := openSocketCANDevice(cfg.canIf, cfg.canFD)
		if err != nil {
			return nil, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
		}
		fd := false
		if f, ok := dev.(interface{ FD() bool }); ok {
			fd = f.FD()
		}
		if cfg.canFD && !fd {
			l.Warn("socketcan_fd_unavailable", "if", cfg.canIf)
		}
		l.Info("socketcan_open", "if", cfg.canIf, "fd", fd)
		return dev, nil
	case "serial":
		p, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, fmt.Errorf("open serial: %w", err)
		}
		l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
		return serial.NewDevice(p), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use socketcan|serial)", cfg.backend)
	}
}
