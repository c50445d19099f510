package session

import (
	"time"

	"github.com/Ratio1/ratio1-sdk/internal/directory"
	"github.com/Ratio1/ratio1-sdk/internal/envelope"
	"github.com/Ratio1/ratio1-sdk/internal/netconfig"
	"github.com/Ratio1/ratio1-sdk/public/pipeline"
)

// forwardHeartbeats, forwardNotifications and forwardPayloads copy frames
// off the broker's per-channel subscription into the Session's internal
// queues, applying the backpressure policy of §5 at the point of entry.
func (s *Session) forwardHeartbeats(ch <-chan []byte) {
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			s.heartbeatQ.push(frame)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) forwardNotifications(ch <-chan []byte) {
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.notifCh <- frame:
			case <-s.ctx.Done():
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) forwardPayloads(ch <-chan []byte) {
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.payloadCh <- frame:
			case <-s.ctx.Done():
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// heartbeatWorker, notificationWorker and payloadWorker are the three
// dispatcher workers started by New. Each drains its queue in FIFO order
// and, on Close, finishes draining whatever is already queued before
// exiting — no message is silently dropped due to a shutdown race.
func (s *Session) heartbeatWorker() {
	for {
		select {
		case frame, ok := <-s.heartbeatQ.ch:
			if !ok {
				return
			}
			s.handleHeartbeat(frame)
		case <-s.ctx.Done():
			for _, f := range s.heartbeatQ.drain() {
				s.handleHeartbeat(f)
			}
			return
		}
	}
}

func (s *Session) notificationWorker() {
	for {
		select {
		case frame, ok := <-s.notifCh:
			if !ok {
				return
			}
			s.handleNotification(frame)
		case <-s.ctx.Done():
			for len(s.notifCh) > 0 {
				s.handleNotification(<-s.notifCh)
			}
			return
		}
	}
}

func (s *Session) payloadWorker() {
	for {
		select {
		case frame, ok := <-s.payloadCh:
			if !ok {
				return
			}
			s.handlePayload(frame)
		case <-s.ctx.Done():
			for len(s.payloadCh) > 0 {
				s.handlePayload(<-s.payloadCh)
			}
			return
		}
	}
}

func bodyString(body map[string]any, key string) string {
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

func bodyBool(body map[string]any, key string) bool {
	if v, ok := body[key].(bool); ok {
		return v
	}
	return false
}

func bodyStringList(body map[string]any, key string) []string {
	raw, ok := body[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// handleHeartbeat implements §4.4.
func (s *Session) handleHeartbeat(frame []byte) {
	env, err := s.codec.Decode(frame)
	if err != nil {
		s.logger.Printf("ratio1-sdk[session]: heartbeat codec error: %v", err)
		return
	}
	if env == nil {
		return
	}
	if s.isFiltered(env.SenderAddress) {
		return
	}

	body, err := envelope.DecodeHeartbeatBody(env.Body)
	if err != nil {
		s.logger.Printf("ratio1-sdk[session]: heartbeat decompress error: %v", err)
		body = env.Body
	}

	alias := bodyString(body, envelope.FieldID)
	ethAddr := bodyString(body, envelope.FieldEthAddr)
	secured := bodyBool(body, envelope.FieldSecured)
	whitelist := bodyStringList(body, envelope.FieldWhitelist)

	s.directory.ObserveHeartbeat(env.SenderAddress, alias, ethAddr, body, secured, whitelist, time.Now())

	if s.opts.AllowLegacyHeartbeatPipelines {
		if streams, ok := body[envelope.FieldConfigStreams].([]any); ok && len(streams) > 0 {
			var pipelines []directory.PipelineConfig
			for _, raw := range streams {
				pm, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				name, _ := pm["NAME"].(string)
				if name == "" {
					continue
				}
				pipelines = append(pipelines, directory.PipelineConfig{Name: name, Raw: pm})
			}
			if len(pipelines) > 0 {
				s.directory.IngestConfig(env.SenderAddress, pipelines, nil)
			}
		}
	}

	s.tracker.Offer(env)

	if s.settings.onHeartbeat != nil {
		s.settings.onHeartbeat(s, env.SenderAddress, body)
	}
}

// handleNotification implements §4.5.
func (s *Session) handleNotification(frame []byte) {
	env, err := s.codec.Decode(frame)
	if err != nil {
		s.logger.Printf("ratio1-sdk[session]: notification codec error: %v", err)
		return
	}
	if env == nil {
		return
	}
	if s.isFiltered(env.SenderAddress) {
		return
	}

	if h, ok := s.pipelines.Get(env.SenderAddress, env.Path.Pipeline); ok {
		if cb, ok := h.Callbacks.Notification(env.Path.PluginSignature, env.Path.PluginInstance); ok {
			cb(env.SenderAddress, env.Path.PluginSignature, env.Path.PluginInstance, env.Body)
		}
	}

	s.tracker.Offer(env)

	if s.settings.onNotification != nil {
		s.settings.onNotification(s, env.SenderAddress, env.Body)
	}
}

// handlePayload implements §4.6.
func (s *Session) handlePayload(frame []byte) {
	env, err := s.codec.Decode(frame)
	if err != nil {
		s.logger.Printf("ratio1-sdk[session]: payload codec error: %v", err)
		return
	}
	if env == nil {
		return
	}
	if s.isFiltered(env.SenderAddress) {
		return
	}

	switch {
	case netconfig.IsAdminNetMonPath(env.Path):
		s.handleNetmonSnapshot(env)
	case netconfig.IsAdminNetConfigPath(env.Path):
		s.handleNetconfigReply(env)
	}

	if h, ok := s.pipelines.Get(env.SenderAddress, env.Path.Pipeline); ok {
		if cb, ok := h.Callbacks.Data(env.Path.PluginSignature, env.Path.PluginInstance); ok {
			cb(env.SenderAddress, env.Path.PluginSignature, env.Path.PluginInstance, env.Body)
		}
	}

	s.tracker.Offer(env)

	if s.settings.onData != nil {
		s.settings.onData(s, env.SenderAddress, env.Path.Pipeline, env.Path.PluginSignature, env.Path.PluginInstance, env.Body)
	}
}

func (s *Session) isFiltered(sender string) bool {
	if len(s.opts.FilterWorkers) == 0 {
		return false
	}
	for _, w := range s.opts.FilterWorkers {
		if w == sender {
			return false
		}
	}
	return true
}

// handleNetmonSnapshot implements §4.6 step 2: the admin-pipeline /
// network-monitor body is a network snapshot.
func (s *Session) handleNetmonSnapshot(env *envelope.Envelope) {
	currentNetwork, ok := env.Body[envelope.FieldCurrentNetwork].(map[string]any)
	if !ok || len(currentNetwork) == 0 {
		return
	}

	now := time.Now()
	snap := &directory.NetmonSnapshot{
		SupervisorAddress: env.SenderAddress,
		ReceivedAt:        now,
		Entries:           make(map[string]directory.NetmonEntry, len(currentNetwork)),
	}

	var needsRequest []string
	for key, raw := range currentNetwork {
		nodeData, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		entry := directory.NetmonEntry{
			Address:        bodyString(nodeData, envelope.FieldNetmonAddress),
			Alias:          bodyString(nodeData, envelope.FieldNetmonEEID),
			EthAddress:     bodyString(nodeData, envelope.FieldNetmonEthAddress),
			Online:         bodyString(nodeData, envelope.FieldNetmonStatusKey) == envelope.NetmonStatusOnline,
			Secured:        bodyBool(nodeData, envelope.FieldNetmonSecured),
			Whitelist:      bodyStringList(nodeData, envelope.FieldNetmonWhitelist),
			Version:        bodyString(nodeData, envelope.FieldNetmonNodeVersion),
			LastRemoteTime: bodyString(nodeData, envelope.FieldNetmonLastRemoteTime),
			IsSupervisor:   bodyBool(nodeData, envelope.FieldNetmonIsSupervisor),
		}
		if entry.Address == "" {
			entry.Address = key
		}
		snap.Entries[entry.Address] = entry

		node, firstPeer := s.directory.ApplyNetmonEntry(entry, now)
		if firstPeer {
			s.firstPeerFire(node.Address)
		}
		if node.Online && node.Authorized && s.directory.NeedsNetconfigRequest(node.Address, netconfig.RequestDelay, now) {
			needsRequest = append(needsRequest, node.Address)
		}
	}
	s.directory.StoreSnapshot(snap)
	s.markNetmonReceived()

	for _, peer := range needsRequest {
		s.directory.MarkNetconfigRequested(peer, now)
		req := netconfig.BuildRequest(peer)
		if err := s.commands.Send(req); err != nil {
			s.logger.Printf("ratio1-sdk[session]: net-config request to %s: %v", peer, err)
		}
	}
}

// handleNetconfigReply implements §4.6 step 3: a net-config reply,
// ingested only when addressed to self, encrypted, and not itself a
// request.
func (s *Session) handleNetconfigReply(env *envelope.Envelope) {
	if !s.identity.ContainsSelf(env.Destination) {
		return
	}
	if !env.Encrypted {
		return
	}
	reply := netconfig.ParseReply(env.Body)
	if reply.IsRequest {
		return
	}
	s.directory.IngestConfig(env.SenderAddress, reply.Pipelines, reply.PluginStatuses)

	for _, p := range reply.Pipelines {
		if h, ok := s.pipelines.Get(env.SenderAddress, p.Name); ok {
			h.UpdateConfig(p.Raw)
		} else {
			s.pipelines.Put(pipeline.NewAttached(env.SenderAddress, p.Name, p.Raw))
		}
	}
}

// markNetmonReceived fires Startup's "first network-monitor message"
// liveness gate unconditionally, once, regardless of whether the snapshot
// authorized any peer.
func (s *Session) markNetmonReceived() {
	s.netmonReceivedOnce.Do(func() { close(s.netmonReceivedCh) })
}

// firstPeerFire implements the distinct one-shot "first peer reached"
// notice of §4.6: fired only when a network-monitor entry actually
// authorizes this Session, never unconditionally.
func (s *Session) firstPeerFire(nodeAddress string) {
	s.firstPeerOnce.Do(func() {
		close(s.firstPeerCh)
		if s.settings.onFirstPeer != nil {
			s.settings.onFirstPeer(s, nodeAddress)
		}
	})
}
