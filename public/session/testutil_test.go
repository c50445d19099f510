package session

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/Ratio1/ratio1-sdk/internal/broker"
	"github.com/Ratio1/ratio1-sdk/internal/config"
	"github.com/Ratio1/ratio1-sdk/internal/envelope"
	"github.com/Ratio1/ratio1-sdk/public/identity"
)

// memoryBroker is an in-process broker.Client test double: Publish appends
// to a per-topic log and Subscribe hands back a channel the test can
// inspect or feed directly.
type memoryBroker struct {
	mu        sync.Mutex
	connected bool
	channels  map[string]chan []byte
	published map[string][][]byte
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{
		channels:  make(map[string]chan []byte),
		published: make(map[string][][]byte),
	}
}

func (b *memoryBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *memoryBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *memoryBroker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *memoryBroker) Publish(topic string, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = append(b.published[topic], frame)
	return nil
}

func (b *memoryBroker) Subscribe(topic string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[topic]
	if !ok {
		ch = make(chan []byte, 64)
		b.channels[topic] = ch
	}
	return ch, nil
}

// inject delivers frame to topic's subscriber channel, as if the broker had
// received it over the wire.
func (b *memoryBroker) inject(topic string, frame []byte) {
	b.mu.Lock()
	ch, ok := b.channels[topic]
	if !ok {
		ch = make(chan []byte, 64)
		b.channels[topic] = ch
	}
	b.mu.Unlock()
	ch <- frame
}

func (b *memoryBroker) publishedOn(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.published[topic]))
	copy(out, b.published[topic])
	return out
}

var _ broker.Client = (*memoryBroker)(nil)

type stubProvider struct{ env map[string]string }

func (p stubProvider) Getenv(key string) (string, bool) { v, ok := p.env[key]; return v, ok }
func (stubProvider) HomeDir() (string, error)           { return "/tmp/ratio1-sdk-test", nil }
func (stubProvider) Dotenv(string) (map[string]string, error) { return map[string]string{}, nil }

var _ config.ConfigProvider = stubProvider{}

// newTestSession builds a Session wired to a fresh memoryBroker and a
// generated self identity, with a short start timeout so tests
// do not stall waiting for a network-monitor message that never arrives.
func newTestSession(t interface{ Fatalf(string, ...any) }, opts ...Option) (*Session, *memoryBroker, *identity.Identity) {
	self, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	b := newMemoryBroker()

	base := []Option{
		WithHost("test-host"),
		WithPort(1),
		WithRootTopic("lummetry"),
		WithIdentity(self),
		WithBrokerClient(b),
		WithConfigProvider(stubProvider{}),
		WithStartTimeout(50 * time.Millisecond),
	}
	s, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s, b, self
}

func jsonFrame(fields map[string]any) []byte {
	out, _ := json.Marshal(fields)
	return out
}

func netmonFrame(selfAddress, supervisor, peerAddress, peerAlias string, online bool, whitelist []string) []byte {
	return netmonFrameSecured(selfAddress, supervisor, peerAddress, peerAlias, online, false, whitelist)
}

func netmonFrameSecured(selfAddress, supervisor, peerAddress, peerAlias string, online, secured bool, whitelist []string) []byte {
	status := envelope.NetmonStatusOffline
	if online {
		status = envelope.NetmonStatusOnline
	}
	return jsonFrame(map[string]any{
		envelope.FieldSender:      supervisor,
		envelope.FieldDestination: []string{selfAddress},
		envelope.FieldIsEncrypted: false,
		envelope.FieldPayloadPath: []string{supervisor, envelope.AdminPipeline, envelope.PluginSignatureNetworkMonitor, ""},
		envelope.FieldCurrentNetwork: map[string]any{
			peerAddress: map[string]any{
				envelope.FieldNetmonAddress:   peerAddress,
				envelope.FieldNetmonEEID:      peerAlias,
				envelope.FieldNetmonStatusKey: status,
				envelope.FieldNetmonSecured:   secured,
				envelope.FieldNetmonWhitelist: whitelist,
			},
		},
	})
}

// encryptedNetconfigReply builds a frame for sender, encrypted for
// recipient, carrying a net-config REPLY body with the given pipelines.
func encryptedNetconfigReply(sender *identity.Identity, recipientAddress string, pipelines []map[string]any) []byte {
	inner := map[string]any{
		envelope.FieldNetConfigData: map[string]any{
			envelope.FieldOperation: envelope.OperationReply,
			envelope.FieldPipelines: pipelines,
		},
	}
	innerJSON, _ := json.Marshal(inner)
	ciphertext, _ := sender.Encrypt(innerJSON, []string{recipientAddress})

	return jsonFrame(map[string]any{
		envelope.FieldSender:        sender.Address(),
		envelope.FieldDestination:   []string{recipientAddress},
		envelope.FieldIsEncrypted:   true,
		envelope.FieldEncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		envelope.FieldPayloadPath:   []string{"", envelope.AdminPipeline, envelope.PluginSignatureNetConfigMonitor, ""},
	})
}
