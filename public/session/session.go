// Package session implements the Session runtime: the client SDK entry
// point for the edge-node network, tying together configuration
// resolution, identity, the broker connection, the envelope codec, the
// peer directory, the transaction tracker and the pipeline registry.
package session

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ratio1/ratio1-sdk/internal/broker"
	"github.com/Ratio1/ratio1-sdk/internal/command"
	"github.com/Ratio1/ratio1-sdk/internal/config"
	"github.com/Ratio1/ratio1-sdk/internal/directory"
	"github.com/Ratio1/ratio1-sdk/internal/envelope"
	"github.com/Ratio1/ratio1-sdk/internal/errs"
	"github.com/Ratio1/ratio1-sdk/internal/transaction"
	"github.com/Ratio1/ratio1-sdk/public/identity"
	"github.com/Ratio1/ratio1-sdk/public/pipeline"
)

const (
	heartbeatQueueCapacity    = 256
	notificationQueueCapacity = 256
	payloadQueueCapacity      = 256
	supervisorTick            = 100 * time.Millisecond
)

// Session is the client runtime. Construct with New, bring it up with
// Startup, and tear it down with Close. Exported methods are safe for
// concurrent use.
type Session struct {
	settings *settings
	logger   *log.Logger

	opts     config.Options
	identity *identity.Identity

	broker    broker.Client
	codec     *envelope.Codec
	registry  *envelope.Registry
	directory *directory.Directory
	tracker   *transaction.Tracker
	commands  *command.Builder
	pipelines *pipeline.Registry

	heartbeatQ *lossyQueue
	notifCh    chan []byte
	payloadCh  chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	started bool
	closed  bool

	// netmonReceivedOnce/netmonReceivedCh back Startup step 7's liveness
	// gate: they fire once, unconditionally, the first time any
	// network-monitor snapshot is received, regardless of whether it
	// authorizes any peer.
	netmonReceivedOnce sync.Once
	netmonReceivedCh   chan struct{}

	// firstPeerOnce/firstPeerCh back the distinct one-shot "first peer
	// reached" notice of §4.6: they fire only the first time a
	// network-monitor entry actually authorizes this Session, never on a
	// snapshot that authorizes no one.
	firstPeerOnce sync.Once
	firstPeerCh   chan struct{}
}

// New constructs a Session. It is synchronous and side-effect-light: it
// captures the supplied options and starts the three dispatcher workers,
// which block on their empty queues until Startup connects the broker and
// begins forwarding frames into them.
func New(opts ...Option) (*Session, error) {
	s := newSettings()
	for _, o := range opts {
		o(s)
	}
	logger := s.logger
	if logger == nil {
		logger = log.Default()
	}

	parent, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(parent)
	sess := &Session{
		settings:         s,
		logger:           logger,
		heartbeatQ:       newLossyQueue(heartbeatQueueCapacity),
		notifCh:          make(chan []byte, notificationQueueCapacity),
		payloadCh:        make(chan []byte, payloadQueueCapacity),
		ctx:              gctx,
		cancel:           cancel,
		group:            group,
		netmonReceivedCh: make(chan struct{}),
		firstPeerCh:      make(chan struct{}),
	}

	sess.group.Go(func() error { sess.heartbeatWorker(); return nil })
	sess.group.Go(func() error { sess.notificationWorker(); return nil })
	sess.group.Go(func() error { sess.payloadWorker(); return nil })

	return sess, nil
}

// Startup performs the seven ordered steps of the Session lifecycle:
// resolve configuration, initialize identity, optionally complete the
// auto-configuration handshake, connect to the broker, start the
// supervisor loop, and wait (bounded) for the first network-monitor
// message.
func (s *Session) Startup(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	// Step 1: resolve user configuration.
	opts, err := config.Resolve(s.settings.explicit, s.settings.file, s.settings.provider)
	if err != nil {
		return fmt.Errorf("session: resolve config: %w", err)
	}
	s.opts = opts

	// Step 2: initialize the Identity.
	if s.settings.identity != nil {
		s.identity = s.settings.identity
	} else {
		path := s.settings.identityPath
		if path == "" {
			path = filepath.Join(opts.LocalCacheBaseFolder, opts.LocalCacheAppFolder, "identity.key")
		}
		id, err := identity.LoadOrCreate(path)
		if err != nil {
			return fmt.Errorf("session: load identity: %w", err)
		}
		s.identity = id
	}

	// Step 3: optional remote auto-configuration handshake.
	if opts.AutoConfiguration {
		ac := s.settings.autoConfigurator
		if ac == nil {
			ac = config.NoopAutoConfigurator{}
		}
		if err := ac.AutoConfigure(); err != nil {
			s.logger.Printf("ratio1-sdk[session]: auto-configuration skipped: %v", err)
		}
	}

	// Step 4 (merge connection parameters) is already folded into
	// config.Resolve's precedence cascade above.

	s.directory = directory.New(s.identity.Address(), time.Duration(opts.OnlineTimeout*float64(time.Second)))
	s.tracker = transaction.NewTracker()
	s.pipelines = pipeline.NewRegistry()
	s.registry = envelope.NewRegistry()
	s.codec = envelope.NewCodec(s.identity, s.registry, s.logger)
	s.commands = &command.Builder{
		Identity:  s.identity,
		Resolver:  s.directory,
		RootTopic: opts.RootTopic,
		Self:      s.identity.Address(),
	}

	// Step 5: connect to the broker.
	if s.settings.brokerClient != nil {
		s.broker = s.settings.brokerClient
	} else {
		s.broker = broker.NewTCPClient(broker.Config{
			Host:     opts.Host,
			Port:     opts.Port,
			User:     opts.User,
			Password: opts.Password,
			Secured:  opts.Secured,
			CertPath: opts.CertPath,
			ClientID: s.identity.Address(),
		}, s.logger)
	}
	s.commands.Broker = s.broker

	if err := s.broker.Connect(); err != nil {
		return fmt.Errorf("session: connect broker: %w", err)
	}
	if err := s.subscribeChannels(); err != nil {
		return fmt.Errorf("session: subscribe: %w", err)
	}

	// Step 6: start the supervisor loop.
	s.group.Go(func() error { s.supervisorLoop(); return nil })

	// Step 7: wait up to the start timeout for the first network-monitor
	// message; a timeout is logged, not fatal.
	select {
	case <-s.netmonReceivedCh:
		s.logger.Printf("ratio1-sdk[session]: first network-monitor message received")
	case <-time.After(s.settings.startTimeout):
		s.logger.Printf("ratio1-sdk[session]: no network-monitor message within %s, continuing", s.settings.startTimeout)
	case <-ctx.Done():
	}

	return nil
}

func (s *Session) subscribeChannels() error {
	heartbeats, err := s.broker.Subscribe(broker.Topic(broker.ChannelConfig, s.opts.RootTopic))
	if err != nil {
		return err
	}
	notifications, err := s.broker.Subscribe(broker.Topic(broker.ChannelNotif, s.opts.RootTopic))
	if err != nil {
		return err
	}
	payloads, err := s.broker.Subscribe(broker.Topic(broker.ChannelPayloads, s.opts.RootTopic))
	if err != nil {
		return err
	}

	s.group.Go(func() error { s.forwardHeartbeats(heartbeats); return nil })
	s.group.Go(func() error { s.forwardNotifications(notifications); return nil })
	s.group.Go(func() error { s.forwardPayloads(payloads); return nil })
	return nil
}

// Close optionally sends a STOP command for every owned pipeline (without
// waiting for any confirmation), then stops the supervisor and signals the
// dispatcher workers to drain and exit. Idempotent; safe to call from within a user callback
// since it never joins the calling goroutine.
func (s *Session) Close(closePipelines, wait bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if closePipelines && s.pipelines != nil {
		for _, h := range s.pipelines.Owned() {
			req := command.Request{
				Action:      command.ActionStop,
				Payload:     map[string]any{"NAME": h.Name},
				Destination: []string{h.NodeAddress},
				Encrypt:     s.opts.EncryptComms,
			}
			if err := s.commands.Send(req); err != nil {
				s.logger.Printf("ratio1-sdk[session]: close pipeline %s/%s: %v", h.NodeAddress, h.Name, err)
			}
		}
	}

	s.cancel()

	finish := func() {
		_ = s.group.Wait()
		if s.broker != nil {
			_ = s.broker.Disconnect()
		}
	}
	if wait {
		finish()
	} else {
		go finish()
	}
	return nil
}

// Run blocks the caller per the polymorphic wait condition. Forever() and
// Seconds(n) also return early once Close has been called. Run does not
// close the Session itself and does not handle OS signals.
func (s *Session) Run(wait WaitSpec) error {
	switch {
	case wait.predicate != nil:
		for wait.predicate() {
			time.Sleep(100 * time.Millisecond)
		}
	case wait.forever:
		<-s.ctx.Done()
	default:
		select {
		case <-time.After(wait.duration):
		case <-s.ctx.Done():
		}
	}
	return nil
}

// ErrAddressUnresolved is re-exported for callers that need to match it
// with errors.Is against SendCommand's return value.
var ErrAddressUnresolved = errs.ErrAddressUnresolved
