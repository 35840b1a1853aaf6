package utils

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"clashkit/keystore"
)

// default values
const (
	DefaultConfigFile = "clashkit.json"

	DefaultReadTimeout        = 20
	DefaultWriteTimeout       = 20
	DefaultIdleTimeout        = 120
	DefaultHttpRequestTimeout = 25
	DefaultShutdownTimeout    = 5

	DefaultDashboardHost = "0.0.0.0"
	DefaultDashboardPort = 8000
	DefaultDashboardPage = "index.html"

	DefaultGatewayHost     = "0.0.0.0"
	DefaultGatewayPort     = 8787
	DefaultClashBaseUrl    = "https://api.clashofclans.com/v1"
	DefaultUpstreamRetries = 2
	DefaultCacheBackend    = CacheBackendMemory
	DefaultRelayRate       = 5.0
	DefaultRelayBurst      = 10

	DefaultPortalBaseUrl  = "https://developer.clashofclans.com/api"
	DefaultKeyName        = "clashkit rotation"
	DefaultKeyDescription = "Created by clashkit rotate"
	DefaultKeyCount       = 1

	DefaultWorkerName  = "clash-mcp-server"
	DefaultSecretName  = "CLASH_API_KEY"
	DefaultSecretStore = SecretStoreCommand
	DefaultElectionKey = "/clashkit/rotation-leader"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	SecretStoreCommand        = "command"
	SecretStoreSecretsManager = "aws-secretsmanager"
)

// environment variables read on top of the config file
const (
	EnvEmail       = "COC_EMAIL"
	EnvPassword    = "COC_PASSWORD"
	EnvApiKey      = "CLASH_API_KEY"
	EnvRelaySecret = "CLASH_RELAY_SECRET"
)

var (
	// DefaultSecretCommand pushes the token to a Cloudflare worker secret. {secret} and {worker}
	// are substituted before the command runs; the token itself arrives on stdin.
	DefaultSecretCommand = []string{"npx", "wrangler", "secret", "put", "{secret}", "--name", "{worker}"}

	DefaultRelayAllowedHosts = []string{"api.clashofclans.com"}
)

type Config struct {
	Dashboard DashboardConfig `json:"dashboard"`
	Gateway   GatewayConfig   `json:"gateway"`
	Portal    PortalConfig    `json:"portal"`
	Rotator   RotatorConfig   `json:"rotator"`

	// http client config
	HttpRequestTimeout int `json:"generic-http-request-timeout"`

	// etcd config for leader election among concurrent rotators
	EtcdConfig EtcdConfig `json:"etcd-config"`
}

// DashboardConfig is the static file server serving the dashboard UI.
type DashboardConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Dir         string `json:"dir"`
	Page        string `json:"page"`
	OpenBrowser *bool  `json:"open-browser"`

	ShutdownTimeout int `json:"shutdown-timeout"`
}

// GatewayConfig is the Clash of Clans API proxy used by the dashboard.
type GatewayConfig struct {
	Keys            []keystore.Key `json:"keys"`
	BaseUrl         string         `json:"base-url"`
	// nil means DefaultUpstreamRetries; 0 disables retries
	UpstreamRetries *int           `json:"upstream-retries"`

	// HTTP server Config
	Host            string `json:"host"`
	Port            int    `json:"port"`
	ReadTimeout     int    `json:"read-timeout"`
	WriteTimeout    int    `json:"write-timeout"`
	IdleTimeout     int    `json:"idle-timeout"`
	ShutdownTimeout int    `json:"shutdown-timeout"`

	Cache CacheConfig `json:"cache"`
	Relay RelayConfig `json:"relay"`
}

type CacheConfig struct {
	Backend       string `json:"backend"`
	RedisAddr     string `json:"redis-addr"`
	RedisPassword string `json:"redis-password"`
	RedisDB       int    `json:"redis-db"`
	KeyPrefix     string `json:"key-prefix"`
}

// RelayConfig guards the pass-through relay. The relay is disabled while Secret is empty.
type RelayConfig struct {
	Secret       string   `json:"secret"`
	AllowedHosts []string `json:"allowed-hosts"`
	Rate         float64  `json:"rate"`
	Burst        int      `json:"burst"`
}

// PortalConfig describes the developer portal that issues API keys.
type PortalConfig struct {
	BaseUrl        string `json:"base-url"`
	KeyName        string `json:"key-name"`
	KeyDescription string `json:"key-description"`
	KeyCount       int    `json:"key-count"`
	Retries        int    `json:"retries"`
}

type RotatorConfig struct {
	// credentials come from the environment only
	Email    string `json:"-"`
	Password string `json:"-"`

	WorkerName string   `json:"worker-name"`
	SecretName string   `json:"secret-name"`
	Store      string   `json:"store"`
	Command    []string `json:"command"`

	AWS struct {
		Region          string `json:"region"`
		SecretId        string `json:"secret-id"`
		CreateIfMissing bool   `json:"create-if-missing"`
	} `json:"aws"`
}

type EtcdConfig struct {
	Endpoints   []string `json:"endpoints"`
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	ElectionKey string   `json:"election-key"`
}

// LoadConfig loads config from the json file specified to filePath args. When the file does not
// exist and required is false, the defaults are returned instead.
func LoadConfig(filePath string, required bool) (*Config, error) {
	conf := &Config{}

	content, err := os.ReadFile(filePath)
	switch {
	case err == nil:
		if err = json.Unmarshal(content, conf); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", filePath)
		}
	case os.IsNotExist(err) && !required:
		// defaults only
	default:
		return nil, errors.Wrapf(err, "failed to read config file %s", filePath)
	}

	conf.SetDefaults()
	return conf, nil
}

// SetDefaults fills every unset field with its default value.
func (conf *Config) SetDefaults() {
	if conf.HttpRequestTimeout == 0 {
		conf.HttpRequestTimeout = DefaultHttpRequestTimeout
	}

	d := &conf.Dashboard
	if d.Host == "" {
		d.Host = DefaultDashboardHost
	}
	if d.Port == 0 {
		d.Port = DefaultDashboardPort
	}
	if d.Dir == "" {
		d.Dir = ExecutableDir()
	}
	if d.Page == "" {
		d.Page = DefaultDashboardPage
	}
	if d.OpenBrowser == nil {
		open := true
		d.OpenBrowser = &open
	}
	if d.ShutdownTimeout == 0 {
		d.ShutdownTimeout = DefaultShutdownTimeout
	}

	g := &conf.Gateway
	if g.Keys == nil {
		g.Keys = make([]keystore.Key, 0)
	}
	if g.BaseUrl == "" {
		g.BaseUrl = DefaultClashBaseUrl
	}
	if g.UpstreamRetries == nil {
		retries := DefaultUpstreamRetries
		g.UpstreamRetries = &retries
	}
	if g.Host == "" {
		g.Host = DefaultGatewayHost
	}
	if g.Port == 0 {
		g.Port = DefaultGatewayPort
	}
	if g.ReadTimeout == 0 {
		g.ReadTimeout = DefaultReadTimeout
	}
	if g.WriteTimeout == 0 {
		g.WriteTimeout = DefaultWriteTimeout
	}
	if g.IdleTimeout == 0 {
		g.IdleTimeout = DefaultIdleTimeout
	}
	if g.ShutdownTimeout == 0 {
		g.ShutdownTimeout = DefaultShutdownTimeout
	}
	if g.Cache.Backend == "" {
		g.Cache.Backend = DefaultCacheBackend
	}
	if g.Relay.AllowedHosts == nil {
		g.Relay.AllowedHosts = append([]string(nil), DefaultRelayAllowedHosts...)
	}
	if g.Relay.Rate == 0 {
		g.Relay.Rate = DefaultRelayRate
	}
	if g.Relay.Burst == 0 {
		g.Relay.Burst = DefaultRelayBurst
	}

	p := &conf.Portal
	if p.BaseUrl == "" {
		p.BaseUrl = DefaultPortalBaseUrl
	}
	if p.KeyName == "" {
		p.KeyName = DefaultKeyName
	}
	if p.KeyDescription == "" {
		p.KeyDescription = DefaultKeyDescription
	}
	if p.KeyCount == 0 {
		p.KeyCount = DefaultKeyCount
	}

	r := &conf.Rotator
	if r.WorkerName == "" {
		r.WorkerName = DefaultWorkerName
	}
	if r.SecretName == "" {
		r.SecretName = DefaultSecretName
	}
	if r.Store == "" {
		r.Store = DefaultSecretStore
	}
	if len(r.Command) == 0 {
		r.Command = append([]string(nil), DefaultSecretCommand...)
	}

	if conf.EtcdConfig.ElectionKey == "" {
		conf.EtcdConfig.ElectionKey = DefaultElectionKey
	}
}

// ApplyEnv layers the environment on top of the file config. Values are taken as they are;
// validating them is left to the component that uses them.
func (conf *Config) ApplyEnv() {
	conf.Rotator.Email = os.Getenv(EnvEmail)
	conf.Rotator.Password = os.Getenv(EnvPassword)

	if key := os.Getenv(EnvApiKey); key != "" {
		conf.Gateway.Keys = append(conf.Gateway.Keys, key)
	}
	if secret, ok := os.LookupEnv(EnvRelaySecret); ok {
		conf.Gateway.Relay.Secret = secret
	}
}

// ExecutableDir is the directory holding the running binary, or the working directory when it
// cannot be resolved.
func ExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
