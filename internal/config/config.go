// Package config resolves Session configuration from the closed option set
// of the wire contract, applying the precedence rule: explicit constructor
// argument, then user-config file, then process environment, then built-in
// default. Environment lookup, home-folder resolution and the dotenv loader
// are externalized behind the ConfigProvider interface so the Session never
// reads process state directly, in the spirit of cellorg's
// StandardConfigResolver.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Ratio1/ratio1-sdk/internal/errs"
)

// Defaults for the closed option set, matched against the wire contract.
const (
	DefaultHost               = "r9092118.ala.eu-central-1.emqxsl.com"
	DefaultPort               = 8883
	DefaultSecured            = true
	DefaultOnlineTimeout      = 60.0
	DefaultRootTopic          = "lummetry"
	DefaultLocalCacheAppName  = "ratio1_sdk"
	DefaultNetconfigRequestDelaySeconds = 300.0
	DefaultStartTimeoutSeconds = 15.0
)

// Two historical environment-variable prefixes; EE_ is newer and wins on
// conflict, per the wire contract's explicit instruction (this
// intentionally inverts the probe order found in the original
// implementation's fill-config routine, which checked the legacy AIXP_
// prefix first).
const (
	PrefixCurrent = "EE"
	PrefixLegacy  = "AIXP"
)

// Options is the closed Session configuration set. It is a struct rather
// than a map so every recognized option is visible at compile time; there is
// no way to smuggle an unrecognized key through.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Secured  bool
	CertPath string

	EncryptComms  bool
	FilterWorkers []string
	RootTopic     string
	OnlineTimeout float64

	AutoConfiguration bool
	EthEnabled        bool

	DotenvPath string

	LocalCacheBaseFolder string
	LocalCacheAppFolder  string
	UseHomeFolder        bool

	// AllowLegacyHeartbeatPipelines gates ingestion of pipeline
	// configurations embedded directly in heartbeats. The documented
	// protocol sends configurations only via net-config replies; this
	// defaults to false per the design note resolving that open question.
	AllowLegacyHeartbeatPipelines bool
}

// ConfigProvider externalizes the process-state reads config.Resolve needs:
// environment lookup, home directory resolution and dotenv loading. Tests
// substitute a deterministic provider instead of mutating the real
// environment.
type ConfigProvider interface {
	Getenv(key string) (string, bool)
	HomeDir() (string, error)
	// Dotenv returns the key/value pairs parsed from the dotenv file at
	// path, or an empty map if the file does not exist.
	Dotenv(path string) (map[string]string, error)
}

// OSProvider is the ConfigProvider backed by the real process environment
// and filesystem.
type OSProvider struct{}

// Getenv implements ConfigProvider.
func (OSProvider) Getenv(key string) (string, bool) { return os.LookupEnv(key) }

// HomeDir implements ConfigProvider.
func (OSProvider) HomeDir() (string, error) { return os.UserHomeDir() }

// Dotenv implements ConfigProvider by parsing a minimal KEY=VALUE file, one
// assignment per line, blank lines and lines starting with '#' ignored,
// values optionally double-quoted. No third-party dotenv library appears
// anywhere in the corpus this module was grounded on, so this is a
// deliberate, narrowly-scoped stdlib substitute — see DESIGN.md.
func (OSProvider) Dotenv(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("config: read dotenv %s: %w", path, err)
	}
	return parseDotenv(data), nil
}

func parseDotenv(data []byte) map[string]string {
	out := map[string]string{}
	for _, line := range splitLines(string(data)) {
		line = trimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		eq := indexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := trimSpace(line[:eq])
		val := trimSpace(line[eq+1:])
		val = unquote(val)
		if key != "" {
			out[key] = val
		}
	}
	return out
}

// FileOptions is the subset of Options a user-config YAML file may supply.
// Pointer fields distinguish "absent" from "zero value" so the precedence
// merge can tell whether the file actually set something.
type FileOptions struct {
	Host     *string `yaml:"host"`
	Port     *int    `yaml:"port"`
	User     *string `yaml:"user"`
	Password *string `yaml:"pwd"`
	Secured  *bool   `yaml:"secured"`
	CertPath *string `yaml:"cert_path"`

	EncryptComms  *bool    `yaml:"encrypt_comms"`
	FilterWorkers []string `yaml:"filter_workers"`
	RootTopic     *string  `yaml:"root_topic"`
	OnlineTimeout *float64 `yaml:"online_timeout"`

	AutoConfiguration *bool `yaml:"auto_configuration"`
	EthEnabled        *bool `yaml:"eth_enabled"`

	DotenvPath *string `yaml:"dotenv_path"`

	LocalCacheBaseFolder *string `yaml:"local_cache_base_folder"`
	LocalCacheAppFolder  *string `yaml:"local_cache_app_folder"`
	UseHomeFolder        *bool   `yaml:"use_home_folder"`
}

// LoadFile reads and parses a user-config YAML file. A missing file is not
// an error — it simply contributes nothing to the precedence merge.
func LoadFile(path string) (*FileOptions, error) {
	if path == "" {
		return &FileOptions{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileOptions{}, nil
		}
		return nil, fmt.Errorf("config: read user config %s: %w", path, err)
	}
	var fo FileOptions
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return nil, fmt.Errorf("config: parse user config %s: %w", path, err)
	}
	return &fo, nil
}

// Explicit carries the subset of Options supplied directly as constructor
// arguments. Like FileOptions, pointer fields distinguish "not passed" from
// "zero value".
type Explicit struct {
	Host     *string
	Port     *int
	User     *string
	Password *string
	Secured  *bool
	CertPath *string

	EncryptComms  *bool
	FilterWorkers []string
	RootTopic     *string
	OnlineTimeout *float64

	AutoConfiguration *bool
	EthEnabled        *bool

	DotenvPath *string

	LocalCacheBaseFolder *string
	LocalCacheAppFolder  *string
	UseHomeFolder        *bool

	AllowLegacyHeartbeatPipelines *bool
}

// Resolve merges explicit, file and environment-derived values over the
// built-in defaults, per the closed precedence rule. user and port (and
// every other option) are resolved independently of one another — the
// original's fill-config assigned the user slot from a port-shaped
// candidate chain in one path; this implementation deliberately keeps every
// option's candidate chain separate, per the first open-question
// resolution.
func Resolve(explicit Explicit, file *FileOptions, provider ConfigProvider) (Options, error) {
	if file == nil {
		file = &FileOptions{}
	}
	if provider == nil {
		provider = OSProvider{}
	}

	dotenvPath := firstString(explicit.DotenvPath, file.DotenvPath, nil)
	envValues := map[string]string{}
	if dotenvPath != "" {
		values, err := provider.Dotenv(dotenvPath)
		if err != nil {
			return Options{}, err
		}
		envValues = values
	}
	lookupEnv := func(key string) (string, bool) {
		if v, ok := envValues[key]; ok {
			return v, true
		}
		return provider.Getenv(key)
	}

	opts := Options{
		Host:     resolveString(explicit.Host, file.Host, envSuffix(lookupEnv, "HOSTNAME"), DefaultHost),
		Port:     resolveInt(explicit.Port, file.Port, envSuffix(lookupEnv, "PORT"), DefaultPort),
		User:     resolveString(explicit.User, file.User, envSuffix(lookupEnv, "USERNAME"), ""),
		Password: resolveString(explicit.Password, file.Password, envSuffix(lookupEnv, "PASSWORD"), ""),
		Secured:  resolveBool(explicit.Secured, file.Secured, envSuffix(lookupEnv, "SECURED"), DefaultSecured),
		CertPath: resolveString(explicit.CertPath, file.CertPath, envSuffix(lookupEnv, "CERT_PATH"), ""),

		EncryptComms:  resolveBool(explicit.EncryptComms, file.EncryptComms, "", true),
		RootTopic:     resolveString(explicit.RootTopic, file.RootTopic, "", DefaultRootTopic),
		OnlineTimeout: resolveFloat(explicit.OnlineTimeout, file.OnlineTimeout, DefaultOnlineTimeout),

		AutoConfiguration: resolveBool(explicit.AutoConfiguration, file.AutoConfiguration, "", false),
		EthEnabled:        resolveBool(explicit.EthEnabled, file.EthEnabled, "", true),

		DotenvPath: dotenvPath,

		LocalCacheBaseFolder: resolveString(explicit.LocalCacheBaseFolder, file.LocalCacheBaseFolder, "", ""),
		LocalCacheAppFolder:  resolveString(explicit.LocalCacheAppFolder, file.LocalCacheAppFolder, "", DefaultLocalCacheAppName),
		UseHomeFolder:        resolveBool(explicit.UseHomeFolder, file.UseHomeFolder, "", true),

		AllowLegacyHeartbeatPipelines: boolOr(explicit.AllowLegacyHeartbeatPipelines, false),
	}
	opts.FilterWorkers = firstNonEmptyList(explicit.FilterWorkers, file.FilterWorkers)

	if opts.Host == "" {
		return Options{}, fmt.Errorf("%w: host", errs.ErrConfigMissing)
	}
	if opts.Port == 0 {
		return Options{}, fmt.Errorf("%w: port", errs.ErrConfigMissing)
	}

	if opts.UseHomeFolder && opts.LocalCacheBaseFolder == "" {
		home, err := provider.HomeDir()
		if err != nil {
			return Options{}, fmt.Errorf("config: resolve home folder: %w", err)
		}
		opts.LocalCacheBaseFolder = filepath.Join(home, ".cache")
	}

	return opts, nil
}

// envSuffix probes both environment-variable prefixes for the given
// suffix (e.g. "HOSTNAME" → EE_HOSTNAME, AIXP_HOSTNAME), returning the
// EE_-prefixed value when both are present.
func envSuffix(lookup func(string) (string, bool), suffix string) string {
	if v, ok := lookup(PrefixCurrent + "_" + suffix); ok && v != "" {
		return v
	}
	if v, ok := lookup(PrefixLegacy + "_" + suffix); ok && v != "" {
		return v
	}
	return ""
}

func resolveString(explicit, file *string, envValue, def string) string {
	if explicit != nil && *explicit != "" {
		return *explicit
	}
	if file != nil && *file != "" {
		return *file
	}
	if envValue != "" {
		return envValue
	}
	return def
}

func resolveInt(explicit, file *int, envValue string, def int) int {
	if explicit != nil && *explicit != 0 {
		return *explicit
	}
	if file != nil && *file != 0 {
		return *file
	}
	if envValue != "" {
		if n, err := parseInt(envValue); err == nil {
			return n
		}
	}
	return def
}

func resolveBool(explicit, file *bool, envValue string, def bool) bool {
	if explicit != nil {
		return *explicit
	}
	if file != nil {
		return *file
	}
	if envValue != "" {
		return parseBool(envValue)
	}
	return def
}

func resolveFloat(explicit, file *float64, def float64) float64 {
	if explicit != nil {
		return *explicit
	}
	if file != nil {
		return *file
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func firstString(vals ...*string) string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func firstNonEmptyList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

// AutoConfigurator performs the optional remote auto-configuration
// handshake of the Session startup sequence's step 3. The wire contract
// names the step but neither the distilled protocol nor the reference
// implementation specify its shape, so the default implementation is a
// documented no-op rather than invented wire behavior.
type AutoConfigurator interface {
	AutoConfigure() error
}

// ErrAutoConfigNotConfigured is returned by NoopAutoConfigurator, logged and
// treated as non-fatal by Session.Startup.
var ErrAutoConfigNotConfigured = fmt.Errorf("config: auto-configuration handshake not configured")

// NoopAutoConfigurator is the default AutoConfigurator.
type NoopAutoConfigurator struct{}

// AutoConfigure implements AutoConfigurator.
func (NoopAutoConfigurator) AutoConfigure() error { return ErrAutoConfigNotConfigured }
