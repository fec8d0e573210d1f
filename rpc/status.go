package rpc

import (
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"aclrelay/relay"
	"aclrelay/types"
)

type ResultStatus struct {
	NodeID      types.NodeID       `json:"node_id"`
	LogSize     int                `json:"log_size"`
	Tails       types.Watermark    `json:"tails"`
	Convergence float64            `json:"convergence"`
	Links       []relay.LinkStatus `json:"links"`
}

// Status reports the local log position, how far the peer set has caught up
// and the state of every peer link.
func Status(ctx *rpctypes.Context) (*ResultStatus, error) {
	coord := env.Reactor.Coordinator()
	return &ResultStatus{
		NodeID:      env.Log.NodeID(),
		LogSize:     env.Log.Size(),
		Tails:       env.Log.Tails(),
		Convergence: coord.ConvergenceStatus(),
		Links:       coord.Statuses(),
	}, nil
}
