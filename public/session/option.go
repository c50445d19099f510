package session

import (
	"log"
	"time"

	"github.com/Ratio1/ratio1-sdk/internal/broker"
	"github.com/Ratio1/ratio1-sdk/internal/config"
	"github.com/Ratio1/ratio1-sdk/public/identity"
)

// HeartbeatCallback, NotificationCallback and DataCallback are the
// Session-level user callbacks, invoked outside any Session lock, with the
// fixed shapes of the design notes' explicit callback contracts (no duck
// typing): heartbeat and notification carry (session, node_address, body);
// payload additionally carries the routing path.
type HeartbeatCallback func(s *Session, nodeAddress string, body map[string]any)
type NotificationCallback func(s *Session, nodeAddress string, body map[string]any)
type DataCallback func(s *Session, nodeAddress, pipelineName, pluginSignature, pluginInstance string, body map[string]any)

// FirstPeerCallback is the one-shot "first peer reached" notice of §4.6,
// invoked the first time any network-monitor entry authorizes this Session
// to send to it — distinct from Startup's "first network-monitor message"
// liveness gate, which fires on any snapshot regardless of authorization.
type FirstPeerCallback func(s *Session, nodeAddress string)

// Option configures a Session at construction time. Explicit options take
// precedence in config.Resolve: the connection options (host, port,
// credentials, secured, cert path) fall back to the user-config file, then
// the environment; the other config options fall back to the user-config
// file only (AllowLegacyHeartbeatPipelines has no fallback). Identity,
// broker client, logger, start timeout and callbacks have no fallback.
type Option func(*settings)

type settings struct {
	explicit config.Explicit
	file     *config.FileOptions

	provider config.ConfigProvider
	logger   *log.Logger

	identity         *identity.Identity
	identityPath     string
	brokerClient     broker.Client
	autoConfigurator config.AutoConfigurator

	onHeartbeat    HeartbeatCallback
	onNotification NotificationCallback
	onData         DataCallback
	onFirstPeer    FirstPeerCallback

	startTimeout time.Duration
}

func newSettings() *settings {
	return &settings{
		file:         &config.FileOptions{},
		startTimeout: time.Duration(config.DefaultStartTimeoutSeconds * float64(time.Second)),
	}
}

// WithHost sets the broker hostname, highest precedence.
func WithHost(host string) Option { return func(s *settings) { s.explicit.Host = &host } }

// WithPort sets the broker port, highest precedence.
func WithPort(port int) Option { return func(s *settings) { s.explicit.Port = &port } }

// WithCredentials sets the broker user/password, highest precedence.
func WithCredentials(user, password string) Option {
	return func(s *settings) {
		s.explicit.User = &user
		s.explicit.Password = &password
	}
}

// WithSecured toggles TLS, highest precedence.
func WithSecured(secured bool) Option { return func(s *settings) { s.explicit.Secured = &secured } }

// WithCertPath sets the TLS CA path, highest precedence.
func WithCertPath(path string) Option { return func(s *settings) { s.explicit.CertPath = &path } }

// WithEncryptComms toggles end-to-end encryption of outbound critical
// sections, highest precedence.
func WithEncryptComms(enabled bool) Option {
	return func(s *settings) { s.explicit.EncryptComms = &enabled }
}

// WithFilterWorkers restricts inbound processing to the listed senders.
func WithFilterWorkers(addresses []string) Option {
	return func(s *settings) { s.explicit.FilterWorkers = addresses }
}

// WithRootTopic sets the broker topic root, highest precedence.
func WithRootTopic(root string) Option { return func(s *settings) { s.explicit.RootTopic = &root } }

// WithOnlineTimeout sets the liveness threshold, highest precedence.
func WithOnlineTimeout(seconds float64) Option {
	return func(s *settings) { s.explicit.OnlineTimeout = &seconds }
}

// WithAutoConfiguration enables the optional remote auto-configuration
// handshake at startup.
func WithAutoConfiguration(enabled bool) Option {
	return func(s *settings) { s.explicit.AutoConfiguration = &enabled }
}

// WithAutoConfigurator supplies the handshake implementation; the default is
// config.NoopAutoConfigurator.
func WithAutoConfigurator(ac config.AutoConfigurator) Option {
	return func(s *settings) { s.autoConfigurator = ac }
}

// WithEthEnabled toggles EVM-address derivation and signing paths.
func WithEthEnabled(enabled bool) Option {
	return func(s *settings) { s.explicit.EthEnabled = &enabled }
}

// WithDotenvPath sets the env-file location consulted during config
// resolution.
func WithDotenvPath(path string) Option { return func(s *settings) { s.explicit.DotenvPath = &path } }

// WithLocalCacheFolders sets the on-disk identity/key-material paths.
func WithLocalCacheFolders(base, app string, useHomeFolder bool) Option {
	return func(s *settings) {
		s.explicit.LocalCacheBaseFolder = &base
		s.explicit.LocalCacheAppFolder = &app
		s.explicit.UseHomeFolder = &useHomeFolder
	}
}

// WithAllowLegacyHeartbeatPipelines resolves the heartbeat-embedded
// pipeline-ingestion open question explicitly; defaults to false.
func WithAllowLegacyHeartbeatPipelines(allow bool) Option {
	return func(s *settings) { s.explicit.AllowLegacyHeartbeatPipelines = &allow }
}

// WithUserConfigFile loads a YAML user-config file, second in the
// precedence chain after explicit options.
func WithUserConfigFile(path string) Option {
	return func(s *settings) {
		fo, err := config.LoadFile(path)
		if err != nil {
			s.file = &config.FileOptions{}
			return
		}
		s.file = fo
	}
}

// WithConfigProvider overrides the ConfigProvider used to resolve
// environment variables, home directory and dotenv files; tests use this to
// substitute a deterministic provider.
func WithConfigProvider(p config.ConfigProvider) Option {
	return func(s *settings) { s.provider = p }
}

// WithLogger overrides the standard logger used for diagnostics.
func WithLogger(l *log.Logger) Option { return func(s *settings) { s.logger = l } }

// WithIdentity supplies an already-constructed Identity, skipping on-disk
// load/generate.
func WithIdentity(id *identity.Identity) Option { return func(s *settings) { s.identity = id } }

// WithIdentityPath sets the on-disk key-file path used by LoadOrCreate when
// no explicit Identity is supplied.
func WithIdentityPath(path string) Option { return func(s *settings) { s.identityPath = path } }

// WithBrokerClient supplies a broker.Client, e.g. a TCPClient or a test
// double; when omitted, Startup builds a broker.TCPClient from the resolved
// connection options.
func WithBrokerClient(c broker.Client) Option { return func(s *settings) { s.brokerClient = c } }

// WithStartTimeout overrides START_TIMEOUT, the bounded wait for the first
// network-monitor message during Startup.
func WithStartTimeout(d time.Duration) Option { return func(s *settings) { s.startTimeout = d } }

// OnHeartbeat registers the user heartbeat callback.
func OnHeartbeat(cb HeartbeatCallback) Option { return func(s *settings) { s.onHeartbeat = cb } }

// OnNotification registers the user notification callback.
func OnNotification(cb NotificationCallback) Option {
	return func(s *settings) { s.onNotification = cb }
}

// OnData registers the user payload callback.
func OnData(cb DataCallback) Option { return func(s *settings) { s.onData = cb } }

// OnFirstPeer registers the one-shot "first peer reached" callback of §4.6,
// fired the first time any network-monitor entry authorizes this Session —
// never on Startup's broader "first network-monitor message" gate alone.
func OnFirstPeer(cb FirstPeerCallback) Option { return func(s *settings) { s.onFirstPeer = cb } }
