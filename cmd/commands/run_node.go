package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	nm "aclrelay/node"
)

// AddNodeFlags exposes the config options most often overridden per node.
func AddNodeFlags(cmd *cobra.Command) {
	cmd.Flags().String("moniker", config.Moniker, "node name")

	cmd.Flags().String("rpc.laddr", config.RPC.ListenAddress, "RPC listen address (port required)")
	cmd.Flags().String("p2p.laddr", config.P2P.ListenAddress, "node listen address (port required)")

	cmd.Flags().String("relay.relay_peers", config.Relay.RelayPeers,
		"comma-delimited id@host:port relay peers to dial at startup")
	cmd.Flags().Duration("relay.ack_timeout", config.Relay.AckTimeout,
		"time a pushed mutation may stay unacknowledged before the link degrades")
	cmd.Flags().Duration("relay.heartbeat_interval", config.Relay.HeartbeatInterval,
		"idle interval after which a ping is sent")
	cmd.Flags().Int("relay.max_reconnect_attempts", config.Relay.MaxReconnectAttempts,
		"reconnect budget per peer, 0 retries forever")
}

// NewRunNodeCmd returns the command that runs the relay node until
// interrupted.
func NewRunNodeCmd(nodeProvider nm.Provider) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"node", "start"},
		Short:   "Run the relay node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nodeProvider(config, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}
			logger.Info("Started node", "nodeInfo", n.NodeInfo())

			// Stop upon receiving SIGTERM or CTRL-C.
			tmos.TrapSignal(logger, func() {
				if n.IsRunning() {
					if err := n.Stop(); err != nil {
						logger.Error("unable to stop the node", "error", err)
					}
				}
			})

			// Run forever.
			select {}
		},
	}

	AddNodeFlags(cmd)
	return cmd
}
