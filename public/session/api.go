package session

import (
	"fmt"
	"time"

	"github.com/Ratio1/ratio1-sdk/internal/command"
	"github.com/Ratio1/ratio1-sdk/internal/envelope"
	"github.com/Ratio1/ratio1-sdk/internal/transaction"
	"github.com/Ratio1/ratio1-sdk/public/pipeline"
)

// SelfAddress returns this Session's own mesh address.
func (s *Session) SelfAddress() string { return s.identity.Address() }

// GetActiveNodes returns every node address whose derived online property
// is currently true.
func (s *Session) GetActiveNodes() []string { return s.directory.ActiveNodes(time.Now()) }

// GetAllowedNodes returns every node address that is both online and
// authorized to receive commands from this Session.
func (s *Session) GetAllowedNodes() []string { return s.directory.AllowedNodes(time.Now()) }

// CreatePipeline registers a locally-owned pipeline handle for nodeAddress
// and sends the UPDATE_CONFIG command that creates it remotely. The
// returned handle is closable by this Session.
func (s *Session) CreatePipeline(nodeAddress, name string, config map[string]any) (*pipeline.Handle, error) {
	if _, exists := s.pipelines.Get(nodeAddress, name); exists {
		return nil, fmt.Errorf("session: pipeline %q already registered for %s", name, nodeAddress)
	}
	payload := map[string]any{"NAME": name}
	for k, v := range config {
		payload[k] = v
	}
	req := command.Request{
		Action:      command.ActionUpdateConfig,
		Payload:     payload,
		Destination: []string{nodeAddress},
		Encrypt:     s.opts.EncryptComms,
	}
	if err := s.commands.Send(req); err != nil {
		return nil, err
	}
	h := pipeline.NewOwned(nodeAddress, name, config)
	s.pipelines.Put(h)
	return h, nil
}

// AttachToPipeline returns a weak (not owned, not closable) handle onto a
// pipeline discovered via net-config ingestion, creating an empty one if
// none has been ingested yet.
func (s *Session) AttachToPipeline(nodeAddress, name string) *pipeline.Handle {
	if h, ok := s.pipelines.Get(nodeAddress, name); ok {
		return h
	}
	h := pipeline.NewAttached(nodeAddress, name, nil)
	s.pipelines.Put(h)
	return h
}

// ClosePipeline sends the STOP command for an owned pipeline and removes
// its handle from the registry.
func (s *Session) ClosePipeline(h *pipeline.Handle) error {
	if !h.Owned {
		return fmt.Errorf("session: pipeline %q on %s is not owned by this session", h.Name, h.NodeAddress)
	}
	req := command.Request{
		Action:      command.ActionStop,
		Payload:     map[string]any{"NAME": h.Name},
		Destination: []string{h.NodeAddress},
		Encrypt:     s.opts.EncryptComms,
	}
	if err := s.commands.Send(req); err != nil {
		return err
	}
	s.pipelines.Remove(h.NodeAddress, h.Name)
	return nil
}

// SendCommand publishes an arbitrary command to one or more nodes/aliases.
func (s *Session) SendCommand(req command.Request) error {
	return s.commands.Send(req)
}

// RegisterTransaction registers a transaction against the dispatcher's
// inbound stream, reaped by the supervisor loop's periodic sweep.
func (s *Session) RegisterTransaction(sessionID string, required []transaction.Matcher, timeout time.Duration, onSuccess, onFailure func(t *transaction.Transaction)) *transaction.Transaction {
	t := transaction.New(sessionID, required, time.Now().Add(timeout), onSuccess, onFailure)
	s.tracker.Register(t)
	return t
}

// WaitForTransactions blocks, polling every 100ms, until every transaction
// in ts is finished or timeout elapses.
func (s *Session) WaitForTransactions(ts []*transaction.Transaction, timeout time.Duration) bool {
	return transaction.WaitFor(ts, 100*time.Millisecond, timeout)
}

// WaitForAnySet blocks, polling every 100ms, until at least one of the
// transaction sets in sets is entirely finished, returning that set, or
// until timeout elapses.
func (s *Session) WaitForAnySet(sets [][]*transaction.Transaction, timeout time.Duration) ([]*transaction.Transaction, bool) {
	return transaction.WaitForAnySet(sets, 100*time.Millisecond, timeout)
}

// WaitForAllSets blocks, polling every 100ms, until every transaction in
// every set in sets is finished, or until timeout elapses.
func (s *Session) WaitForAllSets(sets [][]*transaction.Transaction, timeout time.Duration) bool {
	return transaction.WaitForAllSets(sets, 100*time.Millisecond, timeout)
}

// Node returns the directory record for address, if known.
func (s *Session) Node(address string) (nodeAlias, ethAddress string, online, authorized bool, ok bool) {
	n, found := s.directory.Node(address)
	if !found {
		return "", "", false, false, false
	}
	return n.Alias, n.EthAddress, n.Online, n.Authorized, true
}

// DecodeEnvelope exposes the codec for callers that need to decode a raw
// frame outside the dispatcher, e.g. tests.
func (s *Session) DecodeEnvelope(frame []byte) (*envelope.Envelope, error) {
	return s.codec.Decode(frame)
}

// FirstPeerReached returns a channel that closes exactly once, the first
// time a network-monitor entry authorizes this Session to send to it. This
// is distinct from Startup's broader liveness gate, which unblocks on any
// network-monitor message whether or not it authorizes a peer.
func (s *Session) FirstPeerReached() <-chan struct{} { return s.firstPeerCh }
