// Package config loads the configuration surface spec.md §6 enumerates:
// flags first (grounded on cmd/kqlite/main.go's flag.String/flag.Parse
// style), then an optional YAML file read with gopkg.in/yaml.v3 for
// deployments that prefer a checked-in config over a long flag line, then
// PGWIRE_*/IRIS_* environment variables layered on top.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthMode is the negotiated authentication mechanism (spec.md §6).
type AuthMode string

const (
	AuthTrust  AuthMode = "trust"
	AuthSCRAM  AuthMode = "scram"
	AuthOAuth  AuthMode = "oauth"
	AuthGSSAPI AuthMode = "gssapi"
)

// UnsupportedPolicy mirrors translate.UnsupportedPolicy's string values;
// duplicated here (rather than imported) so this package has no dependency
// on internal/translate — config is the leaf package everything else
// depends on, not the reverse.
type UnsupportedPolicy string

// Config is the fully resolved configuration surface, after flag, optional
// YAML, and env layers have been merged (in that increasing-precedence
// order: YAML overrides flags, including flags passed explicitly on the
// command line, and env overrides YAML — see Load).
type Config struct {
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`

	IRISHost      string `yaml:"iris_host"`
	IRISPort      int    `yaml:"iris_port"`
	IRISNamespace string `yaml:"iris_namespace"`
	IRISUser      string `yaml:"iris_user"`
	IRISPassword  string `yaml:"iris_password"`
	IRISPoolSize  int    `yaml:"iris_pool_size"`

	AuthMode AuthMode `yaml:"auth_mode"`

	TLSEnabled  bool   `yaml:"tls_enabled"`
	TLSCertPath string `yaml:"tls_cert_path"`
	TLSKeyPath  string `yaml:"tls_key_path"`

	TranslationCacheSize int               `yaml:"translation_cache_size"`
	UnsupportedPolicy    UnsupportedPolicy `yaml:"unsupported_policy"`

	ResultBatchSize  int `yaml:"result_batch_size"`
	WriteHighWater   int `yaml:"write_high_water_bytes"`
	CopyInBufferSize int `yaml:"copy_in_buffer_bytes"`

	LogLevel string `yaml:"log_level"`

	OAuthClientID     string `yaml:"oauth_client_id"`
	OAuthClientSecret string `yaml:"oauth_client_secret"`
	OAuthTokenURL     string `yaml:"oauth_token_url"`

	KerberosKeytabPath       string `yaml:"kerberos_keytab_path"`
	KerberosServicePrincipal string `yaml:"kerberos_service_principal"`

	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// ConfigFile names an optional YAML file to layer over the flag
	// defaults before environment variables are applied. Not itself part
	// of the YAML schema (no yaml tag needed on the field it configures).
	ConfigFile string `yaml:"-"`
}

// Default returns the out-of-the-box configuration: trust auth, no TLS,
// the defaults spec.md §4.3/§4.4/§5 name explicitly (1024-entry cache,
// 5MiB write high-water, 10MiB COPY buffer, 1000-row result batch size).
func Default() Config {
	return Config{
		ListenHost:           "0.0.0.0",
		ListenPort:           5432,
		IRISPort:             1972,
		IRISNamespace:        "USER",
		IRISPoolSize:         10,
		AuthMode:             AuthTrust,
		TranslationCacheSize: 1024,
		UnsupportedPolicy:    "hybrid",
		ResultBatchSize:      1000,
		WriteHighWater:       5 * 1024 * 1024,
		CopyInBufferSize:     10 * 1024 * 1024,
		LogLevel:             "info",
		ShutdownGrace:        10 * time.Second,
	}
}

// FlagSet registers every configuration surface key onto fs (a *flag.FlagSet
// so callers, and tests, can parse a synthetic argv without touching the
// process-global flag.CommandLine), writing parsed values into cfg.
func FlagSet(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ListenHost, "listen-host", cfg.ListenHost, "bind address")
	fs.IntVar(&cfg.ListenPort, "listen-port", cfg.ListenPort, "bind port")
	fs.StringVar(&cfg.IRISHost, "iris-host", cfg.IRISHost, "IRIS host")
	fs.IntVar(&cfg.IRISPort, "iris-port", cfg.IRISPort, "IRIS superserver port")
	fs.StringVar(&cfg.IRISNamespace, "iris-namespace", cfg.IRISNamespace, "IRIS namespace")
	fs.StringVar(&cfg.IRISUser, "iris-user", cfg.IRISUser, "IRIS user")
	fs.StringVar(&cfg.IRISPassword, "iris-password", cfg.IRISPassword, "IRIS password")
	fs.IntVar(&cfg.IRISPoolSize, "iris-pool-size", cfg.IRISPoolSize, "bridge session pool capacity")
	fs.StringVar((*string)(&cfg.AuthMode), "auth-mode", string(cfg.AuthMode), "trust|scram|oauth|gssapi")
	fs.BoolVar(&cfg.TLSEnabled, "tls-enabled", cfg.TLSEnabled, "enable SSL upgrade")
	fs.StringVar(&cfg.TLSCertPath, "tls-cert", cfg.TLSCertPath, "TLS certificate path")
	fs.StringVar(&cfg.TLSKeyPath, "tls-key", cfg.TLSKeyPath, "TLS key path")
	fs.IntVar(&cfg.TranslationCacheSize, "translation-cache-size", cfg.TranslationCacheSize, "bounded LRU capacity")
	fs.StringVar((*string)(&cfg.UnsupportedPolicy), "unsupported-policy", string(cfg.UnsupportedPolicy), "error|warning|ignore|hybrid")
	fs.IntVar(&cfg.ResultBatchSize, "result-batch-size", cfg.ResultBatchSize, "DataRow flush threshold")
	fs.IntVar(&cfg.WriteHighWater, "write-high-water", cfg.WriteHighWater, "outbound back-pressure watermark in bytes")
	fs.IntVar(&cfg.CopyInBufferSize, "copy-in-buffer-bytes", cfg.CopyInBufferSize, "inbound COPY buffer cap")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "diagnostic verbosity")
	fs.StringVar(&cfg.OAuthClientID, "oauth-client-id", cfg.OAuthClientID, "oauth mode only")
	fs.StringVar(&cfg.OAuthClientSecret, "oauth-client-secret", cfg.OAuthClientSecret, "oauth mode only")
	fs.StringVar(&cfg.OAuthTokenURL, "oauth-token-url", cfg.OAuthTokenURL, "oauth mode only")
	fs.StringVar(&cfg.KerberosKeytabPath, "kerberos-keytab", cfg.KerberosKeytabPath, "gssapi mode only")
	fs.StringVar(&cfg.KerberosServicePrincipal, "kerberos-principal", cfg.KerberosServicePrincipal, "gssapi mode only")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "optional YAML config file")
}

// envOverrides applies PGWIRE_*/IRIS_* environment variables on top of cfg,
// the last and highest layer of precedence (spec.md §6: "Environment variables with
// recognized names: PGWIRE_*, IRIS_*, POSTGRES_* equivalents").
func envOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q: %w", key, v, err)
		}
		*dst = b
		return nil
	}

	str("PGWIRE_LISTEN_HOST", &cfg.ListenHost)
	if err := num("PGWIRE_LISTEN_PORT", &cfg.ListenPort); err != nil {
		return err
	}
	str("IRIS_HOST", &cfg.IRISHost)
	if err := num("IRIS_PORT", &cfg.IRISPort); err != nil {
		return err
	}
	str("IRIS_NAMESPACE", &cfg.IRISNamespace)
	str("IRIS_USER", &cfg.IRISUser)
	str("IRIS_PASSWORD", &cfg.IRISPassword)
	if err := num("IRIS_POOL_SIZE", &cfg.IRISPoolSize); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("PGWIRE_AUTH_MODE"); ok {
		cfg.AuthMode = AuthMode(v)
	}
	if err := boolean("PGWIRE_TLS_ENABLED", &cfg.TLSEnabled); err != nil {
		return err
	}
	str("PGWIRE_TLS_CERT", &cfg.TLSCertPath)
	str("PGWIRE_TLS_KEY", &cfg.TLSKeyPath)
	if err := num("PGWIRE_TRANSLATION_CACHE_SIZE", &cfg.TranslationCacheSize); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("PGWIRE_UNSUPPORTED_POLICY"); ok {
		cfg.UnsupportedPolicy = UnsupportedPolicy(v)
	}
	if err := num("PGWIRE_RESULT_BATCH_SIZE", &cfg.ResultBatchSize); err != nil {
		return err
	}
	if err := num("PGWIRE_WRITE_HIGH_WATER", &cfg.WriteHighWater); err != nil {
		return err
	}
	if err := num("PGWIRE_COPY_IN_BUFFER_BYTES", &cfg.CopyInBufferSize); err != nil {
		return err
	}
	str("PGWIRE_LOG_LEVEL", &cfg.LogLevel)
	str("IRIS_OAUTH_CLIENT_ID", &cfg.OAuthClientID)
	str("IRIS_OAUTH_CLIENT_SECRET", &cfg.OAuthClientSecret)
	str("IRIS_OAUTH_TOKEN_URL", &cfg.OAuthTokenURL)
	str("IRIS_KERBEROS_KEYTAB", &cfg.KerberosKeytabPath)
	str("IRIS_KERBEROS_PRINCIPAL", &cfg.KerberosServicePrincipal)
	return nil
}

// loadYAML merges path's contents into cfg; unset keys in the file leave
// cfg's existing (flag-parsed) values untouched because Config's zero
// values round-trip through yaml.v3 as "absent" only for pointer fields —
// since every field here is a value type, a key simply omitted from the
// YAML document decodes as a no-op against the already-populated cfg.
func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Load builds the final Config by layering, in increasing precedence:
// Default() < flags passed on args < YAML file (if -config/PGWIRE_CONFIG_FILE
// names one) < environment variables (env wins last, so an operator can
// override a flag or YAML value from the process environment without
// editing a deploy manifest). A key set in the YAML file overrides the same
// key passed explicitly as a flag.
func Load(args []string) (Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet("pgiris", flag.ContinueOnError)
	FlagSet(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if v, ok := os.LookupEnv("PGWIRE_CONFIG_FILE"); ok && cfg.ConfigFile == "" {
		cfg.ConfigFile = v
	}
	if cfg.ConfigFile != "" {
		if err := loadYAML(cfg.ConfigFile, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := envOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a Config that would fail immediately at startup, mapping
// to exit code 1 (spec.md §6: "1 configuration error").
func (c Config) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen port %d out of range", c.ListenPort)
	}
	switch c.AuthMode {
	case AuthTrust, AuthSCRAM, AuthOAuth, AuthGSSAPI:
	default:
		return fmt.Errorf("unrecognized auth mode %q", c.AuthMode)
	}
	if c.AuthMode == AuthOAuth && (c.OAuthClientID == "" || c.OAuthTokenURL == "") {
		return fmt.Errorf("oauth auth mode requires oauth-client-id and oauth-token-url")
	}
	if c.AuthMode == AuthGSSAPI && (c.KerberosKeytabPath == "" || c.KerberosServicePrincipal == "") {
		return fmt.Errorf("gssapi auth mode requires kerberos-keytab and kerberos-principal")
	}
	if c.TLSEnabled && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		return fmt.Errorf("tls-enabled requires tls-cert and tls-key")
	}
	if c.TranslationCacheSize <= 0 {
		return fmt.Errorf("translation cache size must be positive")
	}
	if c.IRISPoolSize <= 0 {
		return fmt.Errorf("iris pool size must be positive")
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}
