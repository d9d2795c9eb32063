package config

import (
	"os"
	"time"

	"github.com/go-yaml/yaml"
)

type Config struct {
	Server         Server         `yaml:"server"`
	Chain          Chain          `yaml:"chain"`
	EmbeddedWallet EmbeddedWallet `yaml:"embeddedWallet"`
	Resolver       Resolver       `yaml:"resolver"`
}

type Server struct {
	ListenAddr    string    `yaml:"listenAddr"`
	PostgresDsn   string    `yaml:"postgresDsn"`
	RedisAddr     string    `yaml:"redisAddr"`
	RedisPassword string    `yaml:"redisPassword"`
	RedisDB       int       `yaml:"redisDB"`
	MemcachedAddr string    `yaml:"memcachedAddr"`
	EnableTrace   bool      `yaml:"enableTrace"`
	TraceEndpoint string    `yaml:"traceEndpoint"`
	RateLimit     RateLimit `yaml:"rateLimit"`
}

// RateLimit applies per caller IP on the embedded wallet route.
type RateLimit struct {
	RequestsPerMinute int      `yaml:"requestsPerMinute"`
	Burst             int      `yaml:"burst"`
	ExpiresIn         Duration `yaml:"expiresIn"`
}

type Chain struct {
	RPCURL              string           `yaml:"rpcURL"`
	SignerPrivateKey    string           `yaml:"signerPrivateKey"`
	ExplorerURL         string           `yaml:"explorerURL"`
	ENSRegistry         string           `yaml:"ensRegistry"`
	Safe                Safe             `yaml:"safe"`
	TokenFactories      map[int64]string `yaml:"tokenFactories"` // chain id -> factory address
	InitialTick         int64            `yaml:"initialTick"`
	PoolFee             int64            `yaml:"poolFee"`
	DeployValueWei      string           `yaml:"deployValueWei"`
	ReceiptPollInterval Duration         `yaml:"receiptPollInterval"`
	ReceiptTimeout      Duration         `yaml:"receiptTimeout"`
}

type Safe struct {
	ProxyFactory    string `yaml:"proxyFactory"`
	Singleton       string `yaml:"singleton"`
	FallbackHandler string `yaml:"fallbackHandler"`
}

type EmbeddedWallet struct {
	APIURL        string   `yaml:"apiURL"`
	APIKey        string   `yaml:"apiKey"`
	EnvironmentID string   `yaml:"environmentID"`
	Timeout       Duration `yaml:"timeout"`
}

type Resolver struct {
	Debounce Duration `yaml:"debounce"`
}

// Duration decodes "500ms" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func Load(path string) (Config, error) {

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var config Config
	err = yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &config)
	if err != nil {
		return Config{}, err
	}

	config.applyDefaults()

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8000"
	}
	if c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 10
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 5
	}
	if c.Server.RateLimit.ExpiresIn == 0 {
		c.Server.RateLimit.ExpiresIn = Duration(3 * time.Minute)
	}

	if c.Chain.ExplorerURL == "" {
		c.Chain.ExplorerURL = "https://base.blockscout.com"
	}
	if c.Chain.ENSRegistry == "" {
		c.Chain.ENSRegistry = "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"
	}
	// Safe v1.4.1 canonical deployments
	if c.Chain.Safe.ProxyFactory == "" {
		c.Chain.Safe.ProxyFactory = "0x4e1DCf7AD4e460CfD30791CCC4F9c8a4f820ec67"
	}
	if c.Chain.Safe.Singleton == "" {
		c.Chain.Safe.Singleton = "0x29fcB43b46531BcA003ddC8FCB67FFE91900C762"
	}
	if c.Chain.Safe.FallbackHandler == "" {
		c.Chain.Safe.FallbackHandler = "0xfd0732Dc9E303f09fCEf3a7388Ad10A83459Ec99"
	}
	if c.Chain.InitialTick == 0 {
		c.Chain.InitialTick = -230400
	}
	if c.Chain.PoolFee == 0 {
		c.Chain.PoolFee = 10000
	}
	if c.Chain.DeployValueWei == "" {
		c.Chain.DeployValueWei = "0"
	}
	if c.Chain.ReceiptPollInterval == 0 {
		c.Chain.ReceiptPollInterval = Duration(2 * time.Second)
	}
	if c.Chain.ReceiptTimeout == 0 {
		c.Chain.ReceiptTimeout = Duration(3 * time.Minute)
	}

	if c.EmbeddedWallet.APIURL == "" {
		c.EmbeddedWallet.APIURL = "https://app.dynamicauth.com/api/v0"
	}
	if c.EmbeddedWallet.Timeout == 0 {
		c.EmbeddedWallet.Timeout = Duration(10 * time.Second)
	}

	if c.Resolver.Debounce == 0 {
		c.Resolver.Debounce = Duration(500 * time.Millisecond)
	}
}
