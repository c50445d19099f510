// Package directory implements the peer directory: the Session's in-memory
// map of node address to alias, EVM address, liveness and authorization
// state, and known pipelines, guarded by a single mutex per the
// concurrency model's explicit allowance ("a single mutex is sufficient
// because directory mutations are fast and workers are few").
package directory

import (
	"sync"
	"time"
)

// State is a peer's position in the liveness/authorization state machine of
// the net-config protocol.
type State int

const (
	StateUnseen State = iota
	StateSeenOffline
	StateSeenOnlineNotPeered
	StateSeenOnlinePeered
	StateAwaitingNetconfig
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnseen:
		return "unseen"
	case StateSeenOffline:
		return "seen-offline"
	case StateSeenOnlineNotPeered:
		return "seen-online-not-peered"
	case StateSeenOnlinePeered:
		return "seen-online-peered"
	case StateAwaitingNetconfig:
		return "awaiting-netconfig"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// PipelineConfig is the remote configuration snapshot ingested for a
// (node, pipeline) pair, either from a net-config reply or — when enabled —
// a legacy heartbeat-embedded configuration.
type PipelineConfig struct {
	Name string
	Raw  map[string]any
}

// Node is a peer record. Mutated only by Directory under its lock.
type Node struct {
	Address       string
	Alias         string
	EthAddress    string
	LastSeen      time.Time
	LastHeartbeat map[string]any
	Authorized    bool
	Secured       bool
	Online        bool
	State         State
	LastNetconfigRequest time.Time

	Pipelines map[string]PipelineConfig
	// PluginStatuses supplements the dropped PLUGINS_STATUSES behavior:
	// pipeline -> plugin signature -> plugin instance -> status string.
	PluginStatuses map[string]map[string]map[string]string
}

func newNode(address string) *Node {
	return &Node{
		Address:      address,
		Pipelines:    make(map[string]PipelineConfig),
		PluginStatuses: make(map[string]map[string]map[string]string),
	}
}

// NetmonSnapshot is the per-supervisor "most recent snapshot" of §3's Data
// Model, keyed by node address.
type NetmonSnapshot struct {
	SupervisorAddress string
	ReceivedAt         time.Time
	Entries            map[string]NetmonEntry
}

// NetmonEntry is one node's record inside a network-status snapshot.
type NetmonEntry struct {
	Address        string
	Alias          string
	EthAddress     string
	Online         bool
	Secured        bool
	Whitelist      []string
	Version        string
	LastRemoteTime string
	IsSupervisor   bool
}

// Directory owns the node map and the most-recent netmon snapshot per
// supervisor. All mutation and consistent reads happen under mu.
type Directory struct {
	mu    sync.Mutex
	nodes map[string]*Node

	self          string
	onlineTimeout time.Duration

	snapshots map[string]*NetmonSnapshot

	firstPeerReached bool
}

// New builds an empty Directory. self is this Session's own address, used
// for whitelist/authorization checks; onlineTimeout is the threshold for
// deriving "online" from last-seen age.
func New(self string, onlineTimeout time.Duration) *Directory {
	return &Directory{
		nodes:         make(map[string]*Node),
		self:          self,
		onlineTimeout: onlineTimeout,
		snapshots:     make(map[string]*NetmonSnapshot),
	}
}

func (d *Directory) getOrCreate(address string) *Node {
	n, ok := d.nodes[address]
	if !ok {
		n = newNode(address)
		n.State = StateUnseen
		d.nodes[address] = n
	}
	return n
}

// ObserveHeartbeat applies §4.4 steps 2-5: refresh last-seen/alias, first-
// writer-wins the EVM address, and recompute the authorized-to-send flag
// from the whitelist rule.
func (d *Directory) ObserveHeartbeat(address, alias, ethAddress string, body map[string]any, secured bool, whitelist []string, now time.Time) *Node {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.getOrCreate(address)
	n.Alias = alias
	if n.EthAddress == "" {
		n.EthAddress = ethAddress
	}
	n.LastHeartbeat = body
	n.LastSeen = now
	n.Secured = secured
	n.Authorized = authorizedRule(secured, whitelist, d.self, address)
	d.recomputeOnline(n, now)
	d.advanceStateOnObservation(n)
	return n
}

// authorizedRule implements §4.4 step 5's rule verbatim:
// allowed = (not node_is_secured) OR (self in whitelist) OR (self == node_address).
func authorizedRule(secured bool, whitelist []string, self, nodeAddress string) bool {
	if !secured {
		return true
	}
	if self == nodeAddress {
		return true
	}
	for _, w := range whitelist {
		if w == self {
			return true
		}
	}
	return false
}

func (d *Directory) recomputeOnline(n *Node, now time.Time) {
	n.Online = now.Sub(n.LastSeen) < d.onlineTimeout
	if !n.Online && n.State != StateUnseen {
		n.State = StateSeenOffline
	}
}

func (d *Directory) advanceStateOnObservation(n *Node) {
	switch n.State {
	case StateUnseen:
		if n.Online {
			n.State = StateSeenOnlineNotPeered
		} else {
			n.State = StateSeenOffline
		}
	case StateSeenOffline:
		if n.Online {
			n.State = StateSeenOnlineNotPeered
		}
	}
	if n.State == StateSeenOnlineNotPeered && n.Authorized {
		n.State = StateSeenOnlinePeered
	}
	if !n.Online && n.State != StateUnseen {
		n.State = StateSeenOffline
	}
}

// ApplyNetmonEntry folds one entry of a network snapshot into the directory,
// per §4.6 step 2.
func (d *Directory) ApplyNetmonEntry(e NetmonEntry, now time.Time) (node *Node, firstPeer bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.getOrCreate(e.Address)
	if e.Online {
		n.Alias = e.Alias
		if n.EthAddress == "" {
			n.EthAddress = e.EthAddress
		}
		n.LastSeen = now
	}
	n.Online = e.Online
	n.Secured = e.Secured
	n.Authorized = authorizedRule(e.Secured, e.Whitelist, d.self, e.Address)
	d.advanceStateOnObservation(n)
	if !e.Online {
		n.State = StateSeenOffline
	}

	firstPeer = false
	if n.Authorized && !d.firstPeerReached {
		d.firstPeerReached = true
		firstPeer = true
	}
	return n, firstPeer
}

// NeedsNetconfigRequest reports whether n is online, authorized, has no
// known pipelines yet, and either has never been asked or was last asked
// more than cooldown ago — the trigger condition of §4.7.
func (d *Directory) NeedsNetconfigRequest(address string, cooldown time.Duration, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[address]
	if !ok || !n.Online || !n.Authorized {
		return false
	}
	if len(n.Pipelines) > 0 {
		return false
	}
	if n.LastNetconfigRequest.IsZero() {
		return true
	}
	return now.Sub(n.LastNetconfigRequest) > cooldown
}

// MarkNetconfigRequested records that a net-config request was just sent to
// address, whether or not a reply ever arrives (fire-and-forget, per §4.7).
func (d *Directory) MarkNetconfigRequested(address string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.getOrCreate(address)
	n.LastNetconfigRequest = now
	if n.State == StateSeenOnlinePeered {
		n.State = StateAwaitingNetconfig
	}
}

// IngestConfig folds pipeline configurations (and, as a supplement, plugin
// statuses) from a net-config reply or a legacy heartbeat into the node's
// known-pipelines map.
func (d *Directory) IngestConfig(address string, pipelines []PipelineConfig, pluginStatuses map[string]map[string]map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.getOrCreate(address)
	for _, p := range pipelines {
		n.Pipelines[p.Name] = p
	}
	for pipeline, sigs := range pluginStatuses {
		if _, ok := n.PluginStatuses[pipeline]; !ok {
			n.PluginStatuses[pipeline] = map[string]map[string]string{}
		}
		for sig, instances := range sigs {
			if _, ok := n.PluginStatuses[pipeline][sig]; !ok {
				n.PluginStatuses[pipeline][sig] = map[string]string{}
			}
			for inst, status := range instances {
				n.PluginStatuses[pipeline][sig][inst] = status
			}
		}
	}
	if n.State == StateAwaitingNetconfig {
		n.State = StateReady
	}
}

// Node returns a copy of the node record for address, or false if unknown.
func (d *Directory) Node(address string) (Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[address]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// PluginStatus returns the recorded status for one plugin instance, per
// the PLUGINS_STATUSES supplement.
func (n Node) PluginStatus(pipeline, signature, instance string) (string, bool) {
	sigs, ok := n.PluginStatuses[pipeline]
	if !ok {
		return "", false
	}
	instances, ok := sigs[signature]
	if !ok {
		return "", false
	}
	status, ok := instances[instance]
	return status, ok
}

func cloneNode(n *Node) Node {
	cp := *n
	cp.Pipelines = make(map[string]PipelineConfig, len(n.Pipelines))
	for k, v := range n.Pipelines {
		cp.Pipelines[k] = v
	}
	return cp
}

// ActiveNodes returns every node address whose derived online property is
// true (now − last-seen < online_timeout).
func (d *Directory) ActiveNodes(now time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for addr, n := range d.nodes {
		d.recomputeOnline(n, now)
		if n.Online {
			out = append(out, addr)
		}
	}
	return out
}

// AllowedNodes returns every node address that is both online and
// authorized. The invariant P ∈ allowed_nodes ⇒ P ∈ active_nodes holds by
// construction since AllowedNodes filters on the same Online flag.
func (d *Directory) AllowedNodes(now time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for addr, n := range d.nodes {
		d.recomputeOnline(n, now)
		if n.Online && n.Authorized {
			out = append(out, addr)
		}
	}
	return out
}

// ResolveAlias resolves a human alias to a node address, for the command
// builder's addressing fallback. Returns false if no node with that alias
// has been observed.
func (d *Directory) ResolveAlias(alias string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for addr, n := range d.nodes {
		if n.Alias == alias {
			return addr, true
		}
	}
	return "", false
}

// StoreSnapshot retains snap as the most recent network-status snapshot
// from its supervisor.
func (d *Directory) StoreSnapshot(snap *NetmonSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshots[snap.SupervisorAddress] = snap
}

// AuthoritativeSnapshot returns the retained snapshot with the greatest
// cardinality, per §3's Data Model.
func (d *Directory) AuthoritativeSnapshot() *NetmonSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	var best *NetmonSnapshot
	for _, s := range d.snapshots {
		if best == nil || len(s.Entries) > len(best.Entries) {
			best = s
		}
	}
	return best
}
