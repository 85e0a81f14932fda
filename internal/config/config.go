package config

import (
	"time"
)

// Default configuration values.
const (
	DefaultAddress         = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodyBytes    = 1 << 20

	DefaultJWKSURL          = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	DefaultIssuerPrefix     = "https://securetoken.google.com/"
	DefaultJWKSRefresh      = 15 * time.Minute
	DefaultClockSkew        = 30 * time.Second
	DefaultSigningAlgorithm = "RS256"

	DefaultRedisAddress = "localhost:6379"

	DefaultUserKeyPrefix = "users/"
	DefaultUserTable     = "users"

	DefaultRequestTimeout = 5 * time.Second
	DefaultQueueSuffix    = "_queue"
	DefaultInboundQueue   = "gateway_queue"
	DefaultInboundWorkers = 8
	DefaultBlockTimeout   = time.Second

	DefaultVaultMount = "secret"

	DefaultMetricsNamespace = "edgegw"
	DefaultServiceName      = "edgegw"
)

// User store backends.
const (
	UserStoreRedis = "redis"
	UserStoreSQL   = "sql"
)

// GatewayConfig is the root configuration of the gateway process.
type GatewayConfig struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Identity      IdentityConfig      `yaml:"identity" json:"identity"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	UserStore     UserStoreConfig     `yaml:"userStore" json:"userStore"`
	Broker        BrokerConfig        `yaml:"broker" json:"broker"`
	Inbound       InboundConfig       `yaml:"inbound" json:"inbound"`
	Vault         VaultConfig         `yaml:"vault" json:"vault"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Routes        []RouteConfig       `yaml:"routes" json:"routes"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string           `yaml:"address" json:"address"`
	ReadTimeout     Duration         `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration         `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	ShutdownTimeout Duration         `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
	MaxBodyBytes    int64            `yaml:"maxBodyBytes,omitempty" json:"maxBodyBytes,omitempty"`
	RateLimit       *RateLimitConfig `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
}

// RateLimitConfig configures per-client-IP token buckets.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// IdentityConfig configures ID token verification.
//
// Issuer and Audience default to the Firebase values derived from ProjectID.
type IdentityConfig struct {
	ProjectID       string   `yaml:"projectId" json:"projectId"`
	Issuer          string   `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience        string   `yaml:"audience,omitempty" json:"audience,omitempty"`
	JWKSURL         string   `yaml:"jwksUrl,omitempty" json:"jwksUrl,omitempty"`
	RefreshInterval Duration `yaml:"refreshInterval,omitempty" json:"refreshInterval,omitempty"`
	ClockSkew       Duration `yaml:"clockSkew,omitempty" json:"clockSkew,omitempty"`
	Algorithms      []string `yaml:"algorithms,omitempty" json:"algorithms,omitempty"`
}

// RedisConfig configures the shared Redis client used by the broker and
// the Redis user store.
type RedisConfig struct {
	Address     string   `yaml:"address" json:"address"`
	Password    string   `yaml:"password,omitempty" json:"-"`
	DB          int      `yaml:"db,omitempty" json:"db,omitempty"`
	PoolSize    int      `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	DialTimeout Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
}

// UserStoreConfig selects and configures the user record backend.
type UserStoreConfig struct {
	Type      string `yaml:"type" json:"type"`
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	DSN       string `yaml:"dsn,omitempty" json:"-"`
	Table     string `yaml:"table,omitempty" json:"table,omitempty"`
}

// BrokerConfig configures outbound request/reply over Redis lists.
type BrokerConfig struct {
	QueuePrefix    string                `yaml:"queuePrefix,omitempty" json:"queuePrefix,omitempty"`
	Channels       map[string]string     `yaml:"channels,omitempty" json:"channels,omitempty"`
	ReplyQueue     string                `yaml:"replyQueue,omitempty" json:"replyQueue,omitempty"`
	RequestTimeout Duration              `yaml:"requestTimeout,omitempty" json:"requestTimeout,omitempty"`
	BlockTimeout   Duration              `yaml:"blockTimeout,omitempty" json:"blockTimeout,omitempty"`
	Reconnect      ReconnectConfig       `yaml:"reconnect,omitempty" json:"reconnect,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
}

// ReconnectConfig configures the backoff used when Redis is unreachable.
type ReconnectConfig struct {
	InitialBackoff Duration `yaml:"initialBackoff,omitempty" json:"initialBackoff,omitempty"`
	MaxBackoff     Duration `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty"`
}

// CircuitBreakerConfig configures per-channel circuit breakers.
type CircuitBreakerConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Threshold   int      `yaml:"threshold" json:"threshold"`
	Timeout     Duration `yaml:"timeout" json:"timeout"`
	MaxRequests int      `yaml:"maxRequests,omitempty" json:"maxRequests,omitempty"`
	Interval    Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
}

// InboundConfig configures the gateway-owned message queue.
type InboundConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Queue   string `yaml:"queue,omitempty" json:"queue,omitempty"`
	Workers int    `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// VaultConfig configures optional secret loading from Vault KV v2.
type VaultConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Address   string `yaml:"address,omitempty" json:"address,omitempty"`
	Token     string `yaml:"token,omitempty" json:"-"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Mount     string `yaml:"mount,omitempty" json:"mount,omitempty"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
}

// RouteConfig declares one gateway operation.
type RouteConfig struct {
	Name       string         `yaml:"name" json:"name"`
	Method     string         `yaml:"method,omitempty" json:"method,omitempty"`
	Path       string         `yaml:"path,omitempty" json:"path,omitempty"`
	Command    string         `yaml:"command,omitempty" json:"command,omitempty"`
	Channel    string         `yaml:"channel" json:"channel"`
	Roles      []string       `yaml:"roles,omitempty" json:"roles,omitempty"`
	Public     bool           `yaml:"public,omitempty" json:"public,omitempty"`
	Async      bool           `yaml:"async,omitempty" json:"async,omitempty"`
	Timeout    Duration       `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Predicates []string       `yaml:"predicates,omitempty" json:"predicates,omitempty"`
	Schema     map[string]any `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// DefaultConfig returns a configuration with every default applied and no
// routes.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with defaults. It is idempotent.
func (c *GatewayConfig) ApplyDefaults() {
	c.Server.applyDefaults()
	c.Identity.applyDefaults()
	c.Redis.applyDefaults()
	c.UserStore.applyDefaults()
	c.Broker.applyDefaults()
	c.Inbound.applyDefaults()
	c.Observability.applyDefaults()

	if c.Vault.Mount == "" {
		c.Vault.Mount = DefaultVaultMount
	}

	for i := range c.Routes {
		if c.Routes[i].Command == "" {
			c.Routes[i].Command = c.Routes[i].Name
		}
	}
}

func (s *ServerConfig) applyDefaults() {
	if s.Address == "" {
		s.Address = DefaultAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

func (i *IdentityConfig) applyDefaults() {
	if i.Issuer == "" && i.ProjectID != "" {
		i.Issuer = DefaultIssuerPrefix + i.ProjectID
	}
	if i.Audience == "" {
		i.Audience = i.ProjectID
	}
	if i.JWKSURL == "" {
		i.JWKSURL = DefaultJWKSURL
	}
	if i.RefreshInterval == 0 {
		i.RefreshInterval = Duration(DefaultJWKSRefresh)
	}
	if i.ClockSkew == 0 {
		i.ClockSkew = Duration(DefaultClockSkew)
	}
	if len(i.Algorithms) == 0 {
		i.Algorithms = []string{DefaultSigningAlgorithm}
	}
}

func (r *RedisConfig) applyDefaults() {
	if r.Address == "" {
		r.Address = DefaultRedisAddress
	}
	if r.DialTimeout == 0 {
		r.DialTimeout = Duration(5 * time.Second)
	}
}

func (u *UserStoreConfig) applyDefaults() {
	if u.Type == "" {
		u.Type = UserStoreRedis
	}
	if u.KeyPrefix == "" {
		u.KeyPrefix = DefaultUserKeyPrefix
	}
	if u.Table == "" {
		u.Table = DefaultUserTable
	}
}

func (b *BrokerConfig) applyDefaults() {
	if b.RequestTimeout == 0 {
		b.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if b.BlockTimeout == 0 {
		b.BlockTimeout = Duration(DefaultBlockTimeout)
	}
	if b.Reconnect.InitialBackoff == 0 {
		b.Reconnect.InitialBackoff = Duration(100 * time.Millisecond)
	}
	if b.Reconnect.MaxBackoff == 0 {
		b.Reconnect.MaxBackoff = Duration(10 * time.Second)
	}
}

func (in *InboundConfig) applyDefaults() {
	if in.Queue == "" {
		in.Queue = DefaultInboundQueue
	}
	if in.Workers <= 0 {
		in.Workers = DefaultInboundWorkers
	}
}

// QueueFor returns the Redis list that backs a logical channel.
// Channels without an explicit mapping use "<channel>_queue".
func (b *BrokerConfig) QueueFor(channel string) string {
	queue, ok := b.Channels[channel]
	if !ok || queue == "" {
		queue = channel + DefaultQueueSuffix
	}
	return b.QueuePrefix + queue
}

// TimeoutFor returns the per-route timeout, or the broker default.
func (r *RouteConfig) TimeoutFor(b *BrokerConfig) time.Duration {
	if r.Timeout > 0 {
		return r.Timeout.Duration()
	}
	return b.RequestTimeout.Duration()
}
