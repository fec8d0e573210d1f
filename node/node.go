package node

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/p2p/conn"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"
	"github.com/tendermint/tendermint/version"

	"aclrelay/acllog"
	cfg "aclrelay/config"
	"aclrelay/libs/metric"
	"aclrelay/membership"
	"aclrelay/relay"
	"aclrelay/resolver"
	"aclrelay/rpc"
	"aclrelay/store"
	"aclrelay/types"
)

type Provider func(*cfg.Config, log.Logger) (*Node, error)

// Node wires the full relay engine: persistent ACL store and relay log, the
// resolver gate, the relay reactor on a p2p switch, membership tracking and
// the RPC surface.
type Node struct {
	service.BaseService

	config *cfg.Config

	// network
	transport *p2p.MultiplexTransport
	sw        *p2p.Switch
	nodeInfo  p2p.NodeInfo
	nodeKey   *p2p.NodeKey

	// engine
	aclStore   store.Store
	aclLog     *acllog.Log
	evsw       events.EventSwitch
	resolver   *resolver.Resolver
	reactor    *relay.Reactor
	membership *membership.Tracker

	metricSet    *metric.MetricSet
	rpcListeners []net.Listener
}

type Option func(*Node)

func DefaultNewNode(config *cfg.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile())
	if err != nil {
		return nil, err
	}
	return NewNode(config, nodeKey, logger)
}

func createTransport(
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
) *p2p.MultiplexTransport {
	return p2p.NewMultiplexTransport(nodeInfo, *nodeKey, conn.DefaultMConnConfig())
}

func createSwitch(config *cfg.Config,
	transport p2p.Transport,
	relayReactor *relay.Reactor,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
	p2pLogger log.Logger) *p2p.Switch {

	sw := p2p.NewSwitch(
		config.P2P,
		transport,
	)
	sw.SetLogger(p2pLogger)
	sw.AddReactor("RELAY", relayReactor)

	sw.SetNodeInfo(nodeInfo)
	sw.SetNodeKey(nodeKey)

	p2pLogger.Info("P2P Node ID", "ID", nodeKey.ID(), "file", config.NodeKeyFile())
	return sw
}

func makeNodeInfo(
	config *cfg.Config,
	nodeKey *p2p.NodeKey,
) (p2p.NodeInfo, error) {
	nodeInfo := p2p.DefaultNodeInfo{
		ProtocolVersion: p2p.NewProtocolVersion(
			8,
			11,
			0,
		),
		DefaultNodeID: nodeKey.ID(),
		Network:       "aclrelay",
		Version:       version.TMCoreSemVer,
		Channels: []byte{
			relay.RelayStateChannel,
			relay.MutationChannel,
		},
		Moniker: config.Moniker,
		Other: p2p.DefaultNodeInfoOther{
			TxIndex:    "off",
			RPCAddress: config.RPC.ListenAddress,
		},
	}

	lAddr := config.P2P.ExternalAddress
	if lAddr == "" {
		lAddr = config.P2P.ListenAddress
	}
	nodeInfo.ListenAddr = lAddr

	err := nodeInfo.Validate()
	return nodeInfo, err
}

func NewNode(config *cfg.Config, nodeKey *p2p.NodeKey, logger log.Logger, options ...Option) (*Node, error) {
	nodeID := types.NodeID(nodeKey.ID())

	aclStore, err := store.NewKVStore("aclstore", config.DBDir(), logger.With("module", "store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open acl store: %w", err)
	}

	aclLog, err := acllog.NewKVLog(nodeID, "acllog", config.DBDir(), logger.With("module", "acllog"))
	if err != nil {
		return nil, fmt.Errorf("failed to open relay log: %w", err)
	}

	evsw := events.NewEventSwitch()
	evsw.SetLogger(logger.With("module", "events"))

	res := resolver.NewResolver(aclStore, aclLog, evsw)
	res.SetLogger(logger.With("module", "resolver"))

	coord := relay.NewCoordinator(config.Relay, aclLog, evsw, logger.With("module", "relay"))
	reactor := relay.NewReactor(config.Relay, aclLog, res, coord)
	reactor.SetLogger(logger.With("module", "relay"))

	nodeInfo, err := makeNodeInfo(config, nodeKey)
	if err != nil {
		return nil, err
	}

	transport := createTransport(nodeInfo, nodeKey)
	p2pLogger := logger.With("module", "p2p")
	sw := createSwitch(config, transport, reactor, nodeInfo, nodeKey, p2pLogger)

	tracker := membership.NewTracker(config.Relay, sw, coord)
	tracker.SetLogger(logger.With("module", "membership"))

	metricSet := metric.NewMetricSet()
	if err := metricSet.SetMetrics("RESOLVER", res.Metric()); err != nil {
		return nil, err
	}
	if err := metricSet.SetMetrics("RELAY", coord.Metric()); err != nil {
		return nil, err
	}

	node := &Node{
		config:     config,
		transport:  transport,
		sw:         sw,
		nodeInfo:   nodeInfo,
		nodeKey:    nodeKey,
		aclStore:   aclStore,
		aclLog:     aclLog,
		evsw:       evsw,
		resolver:   res,
		reactor:    reactor,
		membership: tracker,
		metricSet:  metricSet,
	}

	node.BaseService = *service.NewBaseService(logger, "Node", node)
	for _, option := range options {
		option(node)
	}

	return node, nil
}

func (n *Node) Switch() *p2p.Switch {
	return n.sw
}

func (n *Node) NodeInfo() p2p.NodeInfo {
	return n.nodeInfo
}

func (n *Node) Membership() *membership.Tracker {
	return n.membership
}

func (n *Node) OnStart() error {
	if err := n.evsw.Start(); err != nil {
		return err
	}
	if err := n.resolver.Start(); err != nil {
		return err
	}

	addr, err := p2p.NewNetAddressString(p2p.IDAddressString(n.nodeKey.ID(), n.config.P2P.ListenAddress))
	if err != nil {
		return err
	}
	if err := n.transport.Listen(*addr); err != nil {
		return err
	}

	// starting the switch starts the relay reactor
	if err := n.sw.Start(); err != nil {
		return err
	}

	if err := n.membership.Start(); err != nil {
		return err
	}
	for _, peer := range splitAndTrimEmpty(n.config.Relay.RelayPeers, ",", " ") {
		if err := n.membership.AddPeer(peer); err != nil {
			n.Logger.Error("could not track configured peer", "addr", peer, "err", err)
		}
	}

	if n.config.RPC.ListenAddress != "" {
		listeners, err := n.startRPC()
		if err != nil {
			return err
		}
		n.rpcListeners = listeners
	}

	return nil
}

func (n *Node) OnStop() {
	for _, l := range n.rpcListeners {
		if err := l.Close(); err != nil {
			n.Logger.Error("error closing rpc listener", "err", err)
		}
	}

	if err := n.membership.Stop(); err != nil {
		n.Logger.Error("error stopping membership", "err", err)
	}
	if err := n.sw.Stop(); err != nil {
		n.Logger.Error("error stopping switch", "err", err)
	}
	if err := n.transport.Close(); err != nil {
		n.Logger.Error("error closing transport", "err", err)
	}

	if err := n.resolver.Stop(); err != nil {
		n.Logger.Error("error stopping resolver", "err", err)
	}
	if err := n.evsw.Stop(); err != nil {
		n.Logger.Error("error stopping event switch", "err", err)
	}

	if err := n.aclStore.Close(); err != nil {
		n.Logger.Error("error closing acl store", "err", err)
	}
}

func (n *Node) startRPC() ([]net.Listener, error) {
	rpc.SetEnvironment(&rpc.Environment{
		Reactor:    n.reactor,
		Store:      n.aclStore,
		Log:        n.aclLog,
		Membership: n.membership,
		MetricSet:  n.metricSet,
	})

	listenAddrs := splitAndTrimEmpty(n.config.RPC.ListenAddress, ",", " ")
	rpcLogger := n.Logger.With("module", "rpc-server")

	listeners := make([]net.Listener, 0, len(listenAddrs))
	for _, listenAddr := range listenAddrs {
		mux := http.NewServeMux()
		rpcserver.RegisterRPCFuncs(mux, rpc.Routes, rpcLogger)

		config := rpcserver.DefaultConfig()
		config.MaxOpenConnections = n.config.RPC.MaxOpenConnections

		listener, err := rpcserver.Listen(listenAddr, config)
		if err != nil {
			return nil, err
		}

		go func() {
			if err := rpcserver.Serve(listener, mux, rpcLogger, config); err != nil {
				rpcLogger.Error("rpc server stopped", "err", err)
			}
		}()
		listeners = append(listeners, listener)
	}

	return listeners, nil
}

// splitAndTrimEmpty slices s into all subslices separated by sep and returns a
// slice of the string s with all leading and trailing Unicode code points
// contained in cutset removed. If sep is empty, SplitAndTrim splits after each
// UTF-8 sequence. First part is equivalent to strings.SplitN with a count of
// -1.  also filter out empty strings, only return non-empty strings.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))
	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}
	return nonEmptyStrings
}
