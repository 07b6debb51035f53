package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/terraconstructs/authgate/internal/auth"
)

// EnvPrefix is prepended to every environment variable authgate reads.
const EnvPrefix = "AUTHGATE"

// Config holds the application configuration
type Config struct {
	// Server bind address (host:port)
	ServerAddr string

	// UpstreamURL is the protected resource requests are proxied to once
	// authenticated. Empty serves only the built-in endpoints.
	UpstreamURL string

	// Database connection string (DSN). Empty keeps sessions in memory.
	DatabaseURL string

	// Maximum database connection pool size
	MaxDBConnections int

	// Enable debug logging
	Debug bool

	Realm         RealmConfig
	Session       SessionConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
}

// RealmConfig is the OAuth realm the gateway authenticates against. It is
// read once at startup and never mutated.
type RealmConfig struct {
	Name         string
	ResourceName string

	ClientID    string
	Credentials map[string]string
	AuthURL     string
	TokenURL    string
	Scopes      []string

	// Token verification: one of PublicKey, JWKSURL or Issuer.
	PublicKey string
	JWKSURL   string
	Issuer    string
	Audience  string

	// SSLNotRequired allows the code flow over plain HTTP.
	SSLNotRequired   bool
	AllowAnyHostname bool
	TruststorePath   string
	ClientCertPath   string
	ClientKeyPath    string

	ConnectionPoolSize int
	ExchangeTimeout    time.Duration

	// CancelPropagation stops the raw token from being published to
	// downstream handlers.
	CancelPropagation bool

	// AdminRole is the role required to call the remote logout endpoint.
	AdminRole string

	// StateHashKey and StateBlockKey sign and encrypt the state cookie.
	StateHashKey  string
	StateBlockKey string
}

// SessionConfig tunes the session store.
type SessionConfig struct {
	Timeout       time.Duration
	SweepInterval time.Duration
	MaxSessions   int
}

// CORSConfig lists the browser origins granted credentialed cross-origin
// access. Empty refuses every cross-origin request.
type CORSConfig struct {
	AllowedOrigins []string
}

// ObservabilityConfig configures OpenTelemetry export.
type ObservabilityConfig struct {
	OTLPEndpoint   string
	OTLPInsecure   bool
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// SSLRequired reports whether the code flow insists on TLS.
func (r RealmConfig) SSLRequired() bool {
	return !r.SSLNotRequired
}

// Metadata returns the realm metadata handed to token verification and
// published with the session context.
func (r RealmConfig) Metadata() auth.RealmMetadata {
	return auth.RealmMetadata{
		Realm:          r.Name,
		ResourceName:   r.ResourceName,
		PublicKeyPEM:   r.PublicKey,
		JWKSURL:        r.JWKSURL,
		Issuer:         r.Issuer,
		Audience:       r.Audience,
		TruststorePath: r.TruststorePath,
		ClientCertPath: r.ClientCertPath,
		ClientKeyPath:  r.ClientKeyPath,
	}
}

// HTTPClientConfig returns the settings of the shared outbound HTTP client.
func (r RealmConfig) HTTPClientConfig() auth.HTTPClientConfig {
	return auth.HTTPClientConfig{
		PoolSize:         r.ConnectionPoolSize,
		Timeout:          r.ExchangeTimeout,
		AllowAnyHostname: r.AllowAnyHostname,
		TruststorePath:   r.TruststorePath,
		ClientCertPath:   r.ClientCertPath,
		ClientKeyPath:    r.ClientKeyPath,
	}
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("upstream_url", "")
	v.SetDefault("database_url", "")
	v.SetDefault("max_db_connections", 25)
	v.SetDefault("debug", false)

	v.SetDefault("realm.name", "")
	v.SetDefault("realm.resource_name", "")
	v.SetDefault("realm.client_id", "")
	v.SetDefault("realm.credentials.secret", "")
	v.SetDefault("realm.auth_url", "")
	v.SetDefault("realm.token_url", "")
	v.SetDefault("realm.scopes", []string{})
	v.SetDefault("realm.public_key", "")
	v.SetDefault("realm.jwks_url", "")
	v.SetDefault("realm.issuer", "")
	v.SetDefault("realm.audience", "")
	v.SetDefault("realm.ssl_not_required", false)
	v.SetDefault("realm.allow_any_hostname", false)
	v.SetDefault("realm.truststore", "")
	v.SetDefault("realm.client_cert", "")
	v.SetDefault("realm.client_key", "")
	v.SetDefault("realm.connection_pool_size", auth.DefaultConnectionPoolSize)
	v.SetDefault("realm.exchange_timeout", 10*time.Second)
	v.SetDefault("realm.cancel_propagation", false)
	v.SetDefault("realm.admin_role", "admin")
	v.SetDefault("realm.state_hash_key", "")
	v.SetDefault("realm.state_block_key", "")

	v.SetDefault("session.timeout", auth.DefaultSessionTimeout)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("session.max_sessions", 10000)

	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", false)
	v.SetDefault("observability.service_name", "authgate")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
}

// Load reads configuration from the global viper instance: defaults, the
// config file when one was read, then AUTHGATE_ prefixed environment variables.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// StorageConfig is the subset of configuration the database commands need.
type StorageConfig struct {
	DatabaseURL      string
	MaxDBConnections int
}

// LoadStorage reads only the database settings, so database maintenance
// works without a complete realm configuration.
func LoadStorage() StorageConfig {
	v := viper.GetViper()
	bind(v)
	return StorageConfig{
		DatabaseURL:      v.GetString("database_url"),
		MaxDBConnections: v.GetInt("max_db_connections"),
	}
}

func bind(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
}

// LoadFrom reads and validates configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	bind(v)

	cfg := &Config{
		ServerAddr:       v.GetString("server_addr"),
		UpstreamURL:      v.GetString("upstream_url"),
		DatabaseURL:      v.GetString("database_url"),
		MaxDBConnections: v.GetInt("max_db_connections"),
		Debug:            v.GetBool("debug"),
		Realm: RealmConfig{
			Name:               v.GetString("realm.name"),
			ResourceName:       v.GetString("realm.resource_name"),
			ClientID:           v.GetString("realm.client_id"),
			Credentials:        loadCredentials(v),
			AuthURL:            v.GetString("realm.auth_url"),
			TokenURL:           v.GetString("realm.token_url"),
			Scopes:             v.GetStringSlice("realm.scopes"),
			PublicKey:          v.GetString("realm.public_key"),
			JWKSURL:            v.GetString("realm.jwks_url"),
			Issuer:             v.GetString("realm.issuer"),
			Audience:           v.GetString("realm.audience"),
			SSLNotRequired:     v.GetBool("realm.ssl_not_required"),
			AllowAnyHostname:   v.GetBool("realm.allow_any_hostname"),
			TruststorePath:     v.GetString("realm.truststore"),
			ClientCertPath:     v.GetString("realm.client_cert"),
			ClientKeyPath:      v.GetString("realm.client_key"),
			ConnectionPoolSize: v.GetInt("realm.connection_pool_size"),
			ExchangeTimeout:    v.GetDuration("realm.exchange_timeout"),
			CancelPropagation:  v.GetBool("realm.cancel_propagation"),
			AdminRole:          v.GetString("realm.admin_role"),
			StateHashKey:       v.GetString("realm.state_hash_key"),
			StateBlockKey:      v.GetString("realm.state_block_key"),
		},
		Session: SessionConfig{
			Timeout:       v.GetDuration("session.timeout"),
			SweepInterval: v.GetDuration("session.sweep_interval"),
			MaxSessions:   v.GetInt("session.max_sessions"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetStringSlice("cors.allowed_origins")),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint:   v.GetString("observability.otlp_endpoint"),
			OTLPInsecure:   v.GetBool("observability.otlp_insecure"),
			ServiceName:    v.GetString("observability.service_name"),
			ServiceVersion: v.GetString("observability.service_version"),
			Environment:    v.GetString("observability.environment"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadCredentials merges the credentials map from the config file with the
// secret, which may also come from AUTHGATE_REALM_CREDENTIALS_SECRET.
func loadCredentials(v *viper.Viper) map[string]string {
	credentials := make(map[string]string)
	for k, val := range v.GetStringMapString("realm.credentials") {
		if val != "" {
			credentials[k] = val
		}
	}
	if secret := v.GetString("realm.credentials.secret"); secret != "" {
		credentials["secret"] = secret
	}
	return credentials
}

func (c *Config) validate() error {
	// Required realm fields
	if c.Realm.ClientID == "" {
		return required("realm.client_id")
	}
	if c.Realm.AuthURL == "" {
		return required("realm.auth_url")
	}
	if c.Realm.TokenURL == "" {
		return required("realm.token_url")
	}

	if c.Realm.ConnectionPoolSize <= 0 {
		c.Realm.ConnectionPoolSize = auth.DefaultConnectionPoolSize
	}
	if c.Realm.AdminRole == "" {
		c.Realm.AdminRole = "admin"
	}

	if c.Realm.ExchangeTimeout <= 0 {
		return fmt.Errorf("%w: %s must be positive", auth.ErrConfiguration, envKey("realm.exchange_timeout"))
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("%w: %s must be positive", auth.ErrConfiguration, envKey("session.timeout"))
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("%w: %s must be positive", auth.ErrConfiguration, envKey("session.sweep_interval"))
	}

	if (c.Realm.ClientCertPath == "") != (c.Realm.ClientKeyPath == "") {
		return fmt.Errorf("%w: %s and %s must be set together", auth.ErrConfiguration,
			envKey("realm.client_cert"), envKey("realm.client_key"))
	}

	// credentialed responses never go to an arbitrary origin
	for _, origin := range c.CORS.AllowedOrigins {
		if strings.Contains(origin, "*") {
			return fmt.Errorf("%w: %s must list explicit origins, got %q", auth.ErrConfiguration, envKey("cors.allowed_origins"), origin)
		}
	}

	// securecookie accepts AES-128, AES-192 or AES-256 block keys
	switch len(c.Realm.StateBlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("%w: %s must be 16, 24 or 32 bytes", auth.ErrConfiguration, envKey("realm.state_block_key"))
	}

	return nil
}

// splitList flattens comma separated entries, as set through the environment.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func required(key string) error {
	return fmt.Errorf("%w: %s is required", auth.ErrConfiguration, envKey(key))
}

// envKey returns the environment variable name viper resolves key from.
func envKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}
