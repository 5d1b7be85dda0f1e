// Package membership implements the GroupMembership collaborator of §4.9: a
// gossip-backed view of which processes belong to the local cluster, with
// join/leave callbacks the Coordinator reacts to. Grounded on the reference
// corpus's GossipService (storage-node/internal/service/gossip_service.go),
// generalized from ad-hoc health payloads to the address-publication
// contract the Coordinator actually needs.
package membership

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// Advert is the per-node metadata gossiped alongside basic liveness: the
// address other nodes should dial to reach this node's RPC server (§4.9
// "publish address").
type Advert struct {
	RPCAddr string `json:"rpc_addr"`
}

// Callback is invoked on membership change with the node name and its
// advertised RPC address.
type Callback func(name, rpcAddr string)

// Config configures a GroupMembership instance (§6: node.id plus the gossip
// bind/seed surface).
type Config struct {
	NodeName  string
	BindAddr  string
	BindPort  int
	SeedNodes []string
	RPCAddr   string
	Logger    *zap.Logger
}

// GroupMembership wraps a memberlist.Memberlist, exposing the narrow surface
// the Coordinator needs: the current member set and join/leave
// notifications. It is the sole owner of the gossip transport.
type GroupMembership struct {
	logger  *zap.Logger
	advert  Advert
	ml      *memberlist.Memberlist

	mu       sync.Mutex
	onJoinCB  []Callback
	onLeaveCB []Callback
}

// New creates and starts a GroupMembership, joining cfg.SeedNodes if given.
func New(cfg Config) (*GroupMembership, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &GroupMembership{
		logger: logger,
		advert: Advert{RPCAddr: cfg.RPCAddr},
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.NodeName
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	if cfg.BindPort > 0 {
		mlConfig.BindPort = cfg.BindPort
		mlConfig.AdvertisePort = cfg.BindPort
	}
	mlConfig.Delegate = g
	mlConfig.Events = g

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	g.ml = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("failed to join some seed nodes", zap.Error(err))
		}
	}
	return g, nil
}

// OnJoin registers cb to be called whenever a node joins the group.
func (g *GroupMembership) OnJoin(cb Callback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onJoinCB = append(g.onJoinCB, cb)
}

// OnLeave registers cb to be called whenever a node leaves the group.
func (g *GroupMembership) OnLeave(cb Callback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onLeaveCB = append(g.onLeaveCB, cb)
}

// CurrentMembers returns the name -> advertised-RPC-address map of all
// nodes currently alive in the group, per memberlist's own SWIM view.
func (g *GroupMembership) CurrentMembers() map[string]string {
	out := make(map[string]string)
	for _, m := range g.ml.Members() {
		advert, err := decodeAdvert(m.Meta)
		if err != nil {
			continue
		}
		out[m.Name] = advert.RPCAddr
	}
	return out
}

// Shutdown leaves the group and releases gossip transport resources.
func (g *GroupMembership) Shutdown(timeout time.Duration) error {
	if err := g.ml.Leave(timeout); err != nil {
		g.logger.Warn("leave failed", zap.Error(err))
	}
	return g.ml.Shutdown()
}

// NodeMeta implements memberlist.Delegate: the bytes gossiped about this
// node, decoded by peers as an Advert.
func (g *GroupMembership) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(g.advert)
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate. Point-to-point user messages are
// unused by this system; all coordination rides the member metadata.
func (g *GroupMembership) NotifyMsg([]byte) {}

// GetBroadcasts implements memberlist.Delegate.
func (g *GroupMembership) GetBroadcasts(overhead, limit int) [][]byte { return nil }

// LocalState implements memberlist.Delegate.
func (g *GroupMembership) LocalState(join bool) []byte {
	data, _ := json.Marshal(g.advert)
	return data
}

// MergeRemoteState implements memberlist.Delegate.
func (g *GroupMembership) MergeRemoteState([]byte, bool) {}

// NotifyJoin implements memberlist.EventDelegate.
func (g *GroupMembership) NotifyJoin(n *memberlist.Node) {
	advert, err := decodeAdvert(n.Meta)
	addr := ""
	if err == nil {
		addr = advert.RPCAddr
	}
	g.logger.Info("node joined", zap.String("node", n.Name), zap.String("rpc_addr", addr))

	g.mu.Lock()
	cbs := append([]Callback{}, g.onJoinCB...)
	g.mu.Unlock()
	for _, cb := range cbs {
		cb(n.Name, addr)
	}
}

// NotifyLeave implements memberlist.EventDelegate.
func (g *GroupMembership) NotifyLeave(n *memberlist.Node) {
	g.logger.Info("node left", zap.String("node", n.Name))

	g.mu.Lock()
	cbs := append([]Callback{}, g.onLeaveCB...)
	g.mu.Unlock()
	for _, cb := range cbs {
		cb(n.Name, "")
	}
}

// NotifyUpdate implements memberlist.EventDelegate.
func (g *GroupMembership) NotifyUpdate(n *memberlist.Node) {
	g.logger.Debug("node updated", zap.String("node", n.Name))
}

func decodeAdvert(meta []byte) (Advert, error) {
	var a Advert
	if len(meta) == 0 {
		return a, fmt.Errorf("empty metadata")
	}
	err := json.Unmarshal(meta, &a)
	return a, err
}
