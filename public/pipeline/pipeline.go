// Package pipeline implements the Pipeline/Instance façade: handles into
// compute pipelines hosted on remote nodes, either owned (created locally,
// closable by this Session) or attached (a weak reference ingested from a
// remote configuration).
package pipeline

import "sync"

// NotificationCallback and DataCallback are the explicit
// per-plugin-instance callback contracts, replacing "duck typed" callbacks
// with fixed function-type aliases per the design notes.
type NotificationCallback func(nodeAddress, pluginSignature, pluginInstance string, body map[string]any)
type DataCallback func(nodeAddress, pluginSignature, pluginInstance string, body map[string]any)

// Callbacks is the per-plugin-instance callback registry of one pipeline
// handle, keyed by "pluginSignature/pluginInstance".
type Callbacks struct {
	mu     sync.RWMutex
	notify map[string]NotificationCallback
	data   map[string]DataCallback
}

func newCallbacks() *Callbacks {
	return &Callbacks{
		notify: make(map[string]NotificationCallback),
		data:   make(map[string]DataCallback),
	}
}

func key(signature, instance string) string { return signature + "/" + instance }

// OnNotification registers a notification callback for one plugin instance.
func (c *Callbacks) OnNotification(signature, instance string, cb NotificationCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify[key(signature, instance)] = cb
}

// OnData registers a data (payload) callback for one plugin instance.
func (c *Callbacks) OnData(signature, instance string, cb DataCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key(signature, instance)] = cb
}

// Notification returns the registered notification callback, if any, and a
// copy of the registry snapshot is unnecessary here: a single func value
// read under RLock is enough to invoke outside the lock.
func (c *Callbacks) Notification(signature, instance string) (NotificationCallback, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cb, ok := c.notify[key(signature, instance)]
	return cb, ok
}

// Data returns the registered data callback, if any.
func (c *Callbacks) Data(signature, instance string) (DataCallback, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cb, ok := c.data[key(signature, instance)]
	return cb, ok
}

// Handle identifies a pipeline by (node address, pipeline name) and carries
// its remote configuration snapshot and callback registry.
type Handle struct {
	NodeAddress string
	Name        string
	Owned       bool

	mu     sync.RWMutex
	config map[string]any

	Callbacks *Callbacks
}

// NewOwned creates a Handle for a pipeline this Session created locally and
// therefore owns — it will be closed by Session.Close(closePipelines=true).
func NewOwned(nodeAddress, name string, config map[string]any) *Handle {
	return &Handle{
		NodeAddress: nodeAddress,
		Name:        name,
		Owned:       true,
		config:      config,
		Callbacks:   newCallbacks(),
	}
}

// NewAttached creates a Handle for a pipeline discovered via remote
// configuration ingestion — a weak reference into the directory, not owned
// or closable by this Session.
func NewAttached(nodeAddress, name string, config map[string]any) *Handle {
	return &Handle{
		NodeAddress: nodeAddress,
		Name:        name,
		Owned:       false,
		config:      config,
		Callbacks:   newCallbacks(),
	}
}

// Config returns the most recent remote configuration snapshot.
func (h *Handle) Config() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// UpdateConfig replaces the remote configuration snapshot, e.g. after a
// fresh net-config reply.
func (h *Handle) UpdateConfig(config map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = config
}

// Registry tracks every pipeline handle this Session knows about, keyed by
// (node address, pipeline name); pipeline names are unique per node, per
// the uniqueness invariant of §3's Data Model.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

func registryKey(nodeAddress, name string) string { return nodeAddress + "\x00" + name }

// Put registers h, replacing any existing handle for the same
// (node, pipeline) pair.
func (r *Registry) Put(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[registryKey(h.NodeAddress, h.Name)] = h
}

// Get returns the handle for (nodeAddress, name), if known.
func (r *Registry) Get(nodeAddress, name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[registryKey(nodeAddress, name)]
	return h, ok
}

// Remove deletes the handle for (nodeAddress, name).
func (r *Registry) Remove(nodeAddress, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, registryKey(nodeAddress, name))
}

// Owned returns every handle this Session owns, a snapshot safe to iterate
// without holding the registry lock.
func (r *Registry) Owned() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Handle
	for _, h := range r.handles {
		if h.Owned {
			out = append(out, h)
		}
	}
	return out
}

// All returns every known handle, owned or attached.
func (r *Registry) All() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}
