package main

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const envPrefix = "CAN_UDP_BRIDGE_"

type appConfig struct {
	bind            string
	remote          string
	canIf           string
	forceAfterMs    int
	backend         string
	canFD           bool
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	multicastTTL    int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string

	// resolved by validate
	bindAddr   netip.AddrPort
	remoteAddr netip.AddrPort
}

// registerFlags binds every option to fs with its default.
func registerFlags(fs *pflag.FlagSet, cfg *appConfig) {
	fs.StringVarP(&cfg.bind, "bind", "b", "", "Local address to bind to (ip:port)")
	fs.StringVarP(&cfg.remote, "remote", "r", "", "Remote address or multicast group to exchange frames with (ip:port)")
	fs.StringVarP(&cfg.canIf, "can", "c", "", "CAN interface name (when --backend=socketcan)")
	fs.IntVarP(&cfg.forceAfterMs, "force-after-ms", "f", 50, "Send a partially filled batch after this many milliseconds")
	fs.StringVar(&cfg.backend, "backend", "socketcan", "CAN backend: socketcan|serial")
	fs.BoolVar(&cfg.canFD, "can-fd", true, "Enable CAN FD frames on the SocketCAN interface")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Serial device path (when --backend=serial)")
	fs.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	fs.IntVar(&cfg.multicastTTL, "multicast-ttl", 1, "TTL / hop limit of multicast datagrams")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default can-udp-bridge-<hostname>)")
}

// explicitFlags returns the names of flags set on the command line.
func explicitFlags(fs *pflag.FlagSet) map[string]struct{} {
	set := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = struct{}{} })
	return set
}

func (c *appConfig) forceAfter() time.Duration {
	return time.Duration(c.forceAfterMs) * time.Millisecond
}

// validate performs semantic validation and resolves the bind and remote
// addresses. It does not open devices or sockets.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan":
		if c.canIf == "" {
			return errors.New("can interface required for the socketcan backend")
		}
	case "serial":
		if c.baud <= 0 {
			return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
		}
		if c.serialReadTO <= 0 {
			return fmt.Errorf("serial-read-timeout must be > 0")
		}
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.forceAfterMs <= 0 {
		return fmt.Errorf("force-after-ms must be > 0 (got %d)", c.forceAfterMs)
	}
	if c.multicastTTL < 1 || c.multicastTTL > 255 {
		return fmt.Errorf("multicast-ttl must be in 1..255 (got %d)", c.multicastTTL)
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	bind, err := netip.ParseAddrPort(c.bind)
	if err != nil {
		return fmt.Errorf("invalid bind address %q: %w", c.bind, err)
	}
	remote, err := netip.ParseAddrPort(c.remote)
	if err != nil {
		return fmt.Errorf("invalid remote address %q: %w", c.remote, err)
	}
	if bind.Addr().Unmap().Is4() != remote.Addr().Unmap().Is4() {
		return fmt.Errorf("bind %s and remote %s must both be IPv4 or both IPv6", bind, remote)
	}
	c.bindAddr, c.remoteAddr = bind, remote
	return nil
}

// envName maps a flag name to its environment variable, e.g. force-after-ms
// to CAN_UDP_BRIDGE_FORCE_AFTER_MS.
func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// applyEnvOverrides maps CAN_UDP_BRIDGE_* environment variables to config
// fields unless the corresponding flag was explicitly set. Empty values are
// ignored. Durations use time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	env := func(flag string) (string, bool) {
		if _, ok := set[flag]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(envName(flag))
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flag string, dst *string) {
		if v, ok := env(flag); ok {
			*dst = v
		}
	}
	num := func(flag string, dst *int) {
		if v, ok := env(flag); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(fmt.Errorf("invalid %s: %w", envName(flag), err))
				return
			}
			*dst = n
		}
	}
	dur := func(flag string, dst *time.Duration) {
		if v, ok := env(flag); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(fmt.Errorf("invalid %s: %w", envName(flag), err))
				return
			}
			*dst = d
		}
	}
	boolean := func(flag string, dst *bool) {
		if v, ok := env(flag); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("bind", &c.bind)
	str("remote", &c.remote)
	str("can", &c.canIf)
	num("force-after-ms", &c.forceAfterMs)
	str("backend", &c.backend)
	boolean("can-fd", &c.canFD)
	str("serial", &c.serialDev)
	num("baud", &c.baud)
	dur("serial-read-timeout", &c.serialReadTO)
	num("multicast-ttl", &c.multicastTTL)
	str("log-format", &c.logFormat)
	str("log-level", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		// an empty value explicitly disables metrics
		if v, ok := os.LookupEnv(envName("metrics-addr")); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	dur("log-metrics-interval", &c.logMetricsEvery)
	boolean("mdns-enable", &c.mdnsEnable)
	str("mdns-name", &c.mdnsName)
	return firstErr
}
