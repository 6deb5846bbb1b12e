// Package config loads the node configuration: file over defaults, then
// environment overrides on top.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tenant   TenantConfig   `yaml:"tenant"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Protocol ProtocolConfig `yaml:"protocol"`
}

type TenantConfig struct {
	SubscriberID         string `yaml:"subscriberId"`
	UniqueKeyID          string `yaml:"uniqueKeyId"`
	Domain               string `yaml:"domain"`
	RegistryURL          string `yaml:"registryUrl"`
	GatewayURL           string `yaml:"gatewayUrl"`
	CallbackURL          string `yaml:"callbackUrl"`
	SigningPrivateKey    string `yaml:"signingPrivateKey"`
	EncryptionPrivateKey string `yaml:"encryptionPrivateKey"`
	NetworkPublicKey     string `yaml:"networkPublicKey"`
}

type ServerConfig struct {
	ListenAddr     string  `yaml:"listenAddr"`
	RateLimitRPS   float64 `yaml:"rateLimitRps"`
	RateLimitBurst int     `yaml:"rateLimitBurst"`
	VerifyInbound  *bool   `yaml:"verifyInbound"`
}

type StoreConfig struct {
	Backend string       `yaml:"backend"` // memory | redis | badger
	Redis   RedisConfig  `yaml:"redis"`
	Badger  BadgerConfig `yaml:"badger"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BadgerConfig struct {
	Path string `yaml:"path"`
}

type ProtocolConfig struct {
	SearchTTL time.Duration `yaml:"searchTtl"`
	ActionTTL time.Duration `yaml:"actionTtl"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:     "127.0.0.1:8090",
			RateLimitRPS:   25,
			RateLimitBurst: 50,
		},
		Store: StoreConfig{
			Backend: "memory",
			Redis:   RedisConfig{Addr: "127.0.0.1:6379"},
			Badger:  BadgerConfig{Path: "data/store"},
		},
		Protocol: ProtocolConfig{
			SearchTTL: 30 * time.Second,
			ActionTTL: 30 * time.Second,
		},
	}
}

// LoadFromPath reads the config file if present, merges it over defaults and
// applies environment overrides. A missing file is not an error.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/config.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src Config) {
	if src.Tenant.SubscriberID != "" {
		dst.Tenant.SubscriberID = src.Tenant.SubscriberID
	}
	if src.Tenant.UniqueKeyID != "" {
		dst.Tenant.UniqueKeyID = src.Tenant.UniqueKeyID
	}
	if src.Tenant.Domain != "" {
		dst.Tenant.Domain = src.Tenant.Domain
	}
	if src.Tenant.RegistryURL != "" {
		dst.Tenant.RegistryURL = src.Tenant.RegistryURL
	}
	if src.Tenant.GatewayURL != "" {
		dst.Tenant.GatewayURL = src.Tenant.GatewayURL
	}
	if src.Tenant.CallbackURL != "" {
		dst.Tenant.CallbackURL = src.Tenant.CallbackURL
	}
	if src.Tenant.SigningPrivateKey != "" {
		dst.Tenant.SigningPrivateKey = src.Tenant.SigningPrivateKey
	}
	if src.Tenant.EncryptionPrivateKey != "" {
		dst.Tenant.EncryptionPrivateKey = src.Tenant.EncryptionPrivateKey
	}
	if src.Tenant.NetworkPublicKey != "" {
		dst.Tenant.NetworkPublicKey = src.Tenant.NetworkPublicKey
	}
	if src.Server.ListenAddr != "" {
		dst.Server.ListenAddr = src.Server.ListenAddr
	}
	if src.Server.RateLimitRPS != 0 {
		dst.Server.RateLimitRPS = src.Server.RateLimitRPS
	}
	if src.Server.RateLimitBurst != 0 {
		dst.Server.RateLimitBurst = src.Server.RateLimitBurst
	}
	if src.Server.VerifyInbound != nil {
		dst.Server.VerifyInbound = src.Server.VerifyInbound
	}
	if src.Store.Backend != "" {
		dst.Store.Backend = src.Store.Backend
	}
	if src.Store.Redis.Addr != "" {
		dst.Store.Redis = src.Store.Redis
	}
	if src.Store.Badger.Path != "" {
		dst.Store.Badger = src.Store.Badger
	}
	if src.Protocol.SearchTTL != 0 {
		dst.Protocol.SearchTTL = src.Protocol.SearchTTL
	}
	if src.Protocol.ActionTTL != 0 {
		dst.Protocol.ActionTTL = src.Protocol.ActionTTL
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BAP_SUBSCRIBER_ID")); v != "" {
		cfg.Tenant.SubscriberID = v
	}
	if v := strings.TrimSpace(os.Getenv("BAP_REGISTRY_URL")); v != "" {
		cfg.Tenant.RegistryURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BAP_GATEWAY_URL")); v != "" {
		cfg.Tenant.GatewayURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BAP_CALLBACK_URL")); v != "" {
		cfg.Tenant.CallbackURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BAP_LISTEN_ADDR")); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("BAP_STORE_BACKEND")); v != "" {
		cfg.Store.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("BAP_REDIS_ADDR")); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("BAP_REDIS_PASSWORD")); v != "" {
		cfg.Store.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("BAP_REDIS_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.Redis.DB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BAP_BADGER_PATH")); v != "" {
		cfg.Store.Badger.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("BAP_SEARCH_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Protocol.SearchTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("BAP_ACTION_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Protocol.ActionTTL = d
		}
	}
}
