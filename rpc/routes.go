package rpc

import rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"

var Routes = map[string]*rpc.RPCFunc{
	"add_rule":    rpc.NewRPCFunc(AddRule, "subject,resource,permission"),
	"update_rule": rpc.NewRPCFunc(UpdateRule, "subject,resource,permission"),
	"remove_rule": rpc.NewRPCFunc(RemoveRule, "subject,resource"),
	"get_rule":    rpc.NewRPCFunc(GetRule, "subject,resource"),
	"list_rules":  rpc.NewRPCFunc(ListRules, ""),

	"status":      rpc.NewRPCFunc(Status, ""),
	"add_peer":    rpc.NewRPCFunc(AddPeer, "addr"),
	"remove_peer": rpc.NewRPCFunc(RemovePeer, "id"),
	"list_peers":  rpc.NewRPCFunc(ListPeers, ""),
	"metrics":     rpc.NewRPCFunc(JSONMetrics, "label"),
}
