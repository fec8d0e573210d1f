package rpc

import (
	"github.com/tendermint/tendermint/p2p"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

type ResultPeers struct {
	Peers []p2p.ID `json:"peers"`
}

type ResultPeerChange struct {
	Peer string `json:"peer"`
}

// AddPeer tracks a relay endpoint ("id@host:port") and dials it with
// reconnect handling.
func AddPeer(ctx *rpctypes.Context, addr string) (*ResultPeerChange, error) {
	if err := env.Membership.AddPeer(addr); err != nil {
		return nil, err
	}
	return &ResultPeerChange{Peer: addr}, nil
}

// RemovePeer stops tracking the peer and tears the link down.
func RemovePeer(ctx *rpctypes.Context, id string) (*ResultPeerChange, error) {
	if err := env.Membership.RemovePeer(p2p.ID(id)); err != nil {
		return nil, err
	}
	return &ResultPeerChange{Peer: id}, nil
}

func ListPeers(ctx *rpctypes.Context) (*ResultPeers, error) {
	return &ResultPeers{Peers: env.Membership.Peers()}, nil
}
