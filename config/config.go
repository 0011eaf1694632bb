// Package config is the injected configuration structure this core takes
// in place of the driver's usual global SerializationConfig singleton:
// seed list, replica-set name, pool bounds, timeouts, heartbeat interval,
// and TLS flag. Multiple Configs, and therefore multiple independent
// Clusters, may coexist in one process.
package config

import (
	"crypto/tls"
	"time"

	env "github.com/cloudresty/go-env"

	"github.com/mongodb-labs/session-core/connection"
	"github.com/mongodb-labs/session-core/description"
	"github.com/mongodb-labs/session-core/internal/logger"
)

// CredentialSupplier lazily produces authentication credentials; this core
// treats authentication as an external collaborator and only carries a hook
// for it.
type CredentialSupplier func() (username, password string, err error)

// Config is the fully-resolved, immutable-once-built settings a Cluster is
// constructed from.
type Config struct {
	Seeds          []string
	ReplicaSetName string
	ReadPreference description.ReadPreference

	MaxPoolSize int64

	ConnectTimeout time.Duration
	SocketTimeout  time.Duration

	HeartbeatInterval      time.Duration
	MinHeartbeatInterval   time.Duration
	ServerSelectionTimeout time.Duration
	MaxStaleness           time.Duration
	MaxConsecutiveFailures int

	TLS        bool
	TLSConfig  *tls.Config
	Credential CredentialSupplier

	Dialer connection.Dialer

	// LogLevel applies uniformly to every component (cluster, connection,
	// session) unless a caller builds its own *logger.Logger and attaches
	// it directly via Cluster.WithLogger.
	LogLevel logger.Level
}

// Option configures a Config, in the functional-options style: one With*
// constructor per setting.
type Option func(*Config)

// WithSeeds sets the seed list of host:port addresses.
func WithSeeds(seeds ...string) Option {
	return func(c *Config) { c.Seeds = seeds }
}

// WithReplicaSetName sets the expected replica-set name.
func WithReplicaSetName(name string) Option {
	return func(c *Config) { c.ReplicaSetName = name }
}

// WithReadPreference sets Config.ReadPreference. Nothing in this module
// applies it implicitly: Cluster.Connect and Session.CreateChannelProvider
// always take an explicit ReadPreference, which a caller may take from here.
func WithReadPreference(rp description.ReadPreference) Option {
	return func(c *Config) { c.ReadPreference = rp }
}

// WithMaxPoolSize bounds the number of concurrently in-use connections per
// node.
func WithMaxPoolSize(n int64) Option {
	return func(c *Config) { c.MaxPoolSize = n }
}

// WithTimeouts sets the connect and socket timeouts.
func WithTimeouts(connect, socket time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = connect
		c.SocketTimeout = socket
	}
}

// WithHeartbeatInterval sets the steady-state and degraded-state heartbeat
// intervals.
func WithHeartbeatInterval(steady, degraded time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = steady
		c.MinHeartbeatInterval = degraded
	}
}

// WithServerSelectionTimeout bounds how long SelectNode waits for a
// matching node before failing with NoNodeSelected.
func WithServerSelectionTimeout(d time.Duration) Option {
	return func(c *Config) { c.ServerSelectionTimeout = d }
}

// WithMaxStaleness sets Config.MaxStaleness, the maximum replication lag
// for Secondary reads. The value is carried in the Config only; node
// selection in this module does not consult it.
func WithMaxStaleness(d time.Duration) Option {
	return func(c *Config) { c.MaxStaleness = d }
}

// WithTLS enables TLS using cfg (or a bare minimum tls.Config if cfg is
// nil).
func WithTLS(cfg *tls.Config) Option {
	return func(c *Config) {
		c.TLS = true
		if cfg == nil {
			cfg = &tls.Config{}
		}
		c.TLSConfig = cfg
	}
}

// WithCredentialSupplier wires in a lazily-evaluated credential source;
// this core never inspects credentials itself.
func WithCredentialSupplier(supplier CredentialSupplier) Option {
	return func(c *Config) { c.Credential = supplier }
}

// WithMaxConsecutiveFailures sets how many consecutive failed heartbeats
// mark a node ConnectionFailed; earlier failures in the run mark it
// Connecting.
func WithMaxConsecutiveFailures(n int) Option {
	return func(c *Config) { c.MaxConsecutiveFailures = n }
}

// WithDialer overrides the Dialer used to open Connections; tests
// substitute an in-memory Dialer.
func WithDialer(d connection.Dialer) Option {
	return func(c *Config) { c.Dialer = d }
}

// WithLogLevel sets the uniform log level applied to every component.
func WithLogLevel(level logger.Level) Option {
	return func(c *Config) { c.LogLevel = level }
}

// defaults mirror common MongoDB driver defaults: 500ms minimum heartbeat,
// 10s steady-state heartbeat.
func defaults() Config {
	return Config{
		ReadPreference:         description.Primary(),
		MaxPoolSize:            100,
		ConnectTimeout:         10 * time.Second,
		SocketTimeout:          0,
		HeartbeatInterval:      10 * time.Second,
		MinHeartbeatInterval:   500 * time.Millisecond,
		ServerSelectionTimeout: 30 * time.Second,
		MaxConsecutiveFailures: 1,
		LogLevel:               logger.LevelOff,
	}
}

// New builds a Config from defaults plus the given Options.
func New(opts ...Option) Config {
	c := defaults()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// envConfig is the environment-variable shaped counterpart of Config,
// bound with github.com/cloudresty/go-env the way cloudresty-go-mongodb's
// loadConfigFromEnv does. It only covers the fields that have a sane
// scalar/string encoding: SESSIONCORE_TLS only switches TLS on with a
// default tls.Config, while a custom tls.Config and the credential supplier
// remain programmatic-only.
type envConfig struct {
	Seeds                  string        `env:"SESSIONCORE_SEEDS,default=localhost:27017"`
	ReplicaSetName         string        `env:"SESSIONCORE_REPLICA_SET"`
	MaxPoolSize            int64         `env:"SESSIONCORE_MAX_POOL_SIZE,default=100"`
	ConnectTimeout         time.Duration `env:"SESSIONCORE_CONNECT_TIMEOUT,default=10s"`
	SocketTimeout          time.Duration `env:"SESSIONCORE_SOCKET_TIMEOUT,default=0s"`
	HeartbeatInterval      time.Duration `env:"SESSIONCORE_HEARTBEAT_INTERVAL,default=10s"`
	MinHeartbeatInterval   time.Duration `env:"SESSIONCORE_MIN_HEARTBEAT_INTERVAL,default=500ms"`
	ServerSelectionTimeout time.Duration `env:"SESSIONCORE_SERVER_SELECTION_TIMEOUT,default=30s"`
	MaxStaleness           time.Duration `env:"SESSIONCORE_MAX_STALENESS,default=0s"`
	MaxConsecutiveFailures int           `env:"SESSIONCORE_MAX_CONSECUTIVE_FAILURES,default=1"`
	TLS                    bool          `env:"SESSIONCORE_TLS,default=false"`
	LogLevel               string        `env:"SESSIONCORE_LOG_LEVEL,default=off"`
}

// LoadFromEnv loads a Config from environment variables, matching the
// scalar fields to the programmatic Config via the same tag-based binding
// cloudresty-go-mongodb uses for its own Config. It returns the
// programmatic New(...) result with those fields overridden, so a caller
// can still layer Options on top (e.g. WithCredentialSupplier) after
// loading.
func LoadFromEnv(extra ...Option) (Config, error) {
	var e envConfig
	if err := env.Bind(&e, env.DefaultBindingOptions()); err != nil {
		return Config{}, err
	}

	opts := []Option{
		WithSeeds(splitSeeds(e.Seeds)...),
		WithReplicaSetName(e.ReplicaSetName),
		WithMaxPoolSize(e.MaxPoolSize),
		WithTimeouts(e.ConnectTimeout, e.SocketTimeout),
		WithHeartbeatInterval(e.HeartbeatInterval, e.MinHeartbeatInterval),
		WithServerSelectionTimeout(e.ServerSelectionTimeout),
		WithMaxStaleness(e.MaxStaleness),
		WithMaxConsecutiveFailures(e.MaxConsecutiveFailures),
		WithLogLevel(logger.ParseLevel(e.LogLevel)),
	}
	if e.TLS {
		opts = append(opts, WithTLS(nil))
	}
	opts = append(opts, extra...)

	return New(opts...), nil
}

func splitSeeds(s string) []string {
	var seeds []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				seeds = append(seeds, s[start:i])
			}
			start = i + 1
		}
	}
	return seeds
}
