package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cfg := &appConfig{}
	cmd := &cobra.Command{
		Use:   "can-udp-bridge",
		Short: "Bridge a CAN bus to UDP peers",
		Long: `can-udp-bridge forwards CAN and CAN FD frames between a local bus and a
remote peer or multicast group, batching frames into cannelloni v2 datagrams.

Every flag can also be set through a CAN_UDP_BRIDGE_<FLAG> environment
variable (e.g. CAN_UDP_BRIDGE_FORCE_AFTER_MS); flags given on the command
line win.`,
		Example: `  can-udp-bridge -b 0.0.0.0:20000 -r 192.168.1.20:20000 -c can0
  can-udp-bridge -b 192.168.1.10:20001 -r 239.0.0.1:20000 -c vcan0 -f 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyEnvOverrides(cfg, explicitFlags(cmd.Flags())); err != nil {
				return fmt.Errorf("environment override error: %w", err)
			}
			if err := cfg.validate(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
	registerFlags(cmd.Flags(), cfg)
	cmd.AddCommand(versionCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "can-udp-bridge: %v\n", err)
		os.Exit(1)
	}
}
