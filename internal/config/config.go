// Package config loads walletgate settings from flags, environment and the
// config file through viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "WALLETGATE"
	dirName   = ".walletgate"
)

// Store drivers
const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

// Event drivers
const (
	EventsMemory = "memory"
	EventsRedis  = "redis"
)

// Config is the resolved configuration
type Config struct {
	DataDir string

	AppName string
	AppURL  string

	BackendURL    string
	BackendListen string
	RelayURL      string
	RelayListen   string

	SignerTimeout time.Duration
	PollInterval  time.Duration
	PollTimeout   time.Duration

	StoreDriver    string
	StoreNamespace string
	StoreTTL       time.Duration
	EventsDriver   string
	RedisURL       string

	LogLevel string
	Mobile   bool

	// Local keystore wallet presented as an injected provider
	WalletAddress string
	WalletFlags   []string
	WalletChain   string
}

// DefaultDataDir returns $HOME/.walletgate
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dirName
	}
	return filepath.Join(home, dirName)
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("app.name", "Walletgate")
	v.SetDefault("app.url", "http://localhost:8000")
	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.listen", ":8000")
	v.SetDefault("relay.url", "ws://localhost:8001/relay")
	v.SetDefault("relay.listen", ":8001")
	v.SetDefault("signer.timeout", 30*time.Second)
	v.SetDefault("deeplink.poll_interval", 200*time.Millisecond)
	v.SetDefault("deeplink.poll_timeout", 10*time.Second)
	v.SetDefault("store.driver", StoreFile)
	v.SetDefault("store.namespace", "default")
	v.SetDefault("store.ttl", 30*24*time.Hour)
	v.SetDefault("events.driver", EventsMemory)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("log.level", "warn")
	v.SetDefault("mobile", false)
	v.SetDefault("wallet.address", "")
	v.SetDefault("wallet.flags", []string{"isMetaMask"})
	v.SetDefault("wallet.chain", "ethereum")
}

// BindEnv maps WALLETGATE_SECTION_KEY variables onto section.key
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load resolves and validates the configuration held by v
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		DataDir:        v.GetString("data_dir"),
		AppName:        v.GetString("app.name"),
		AppURL:         v.GetString("app.url"),
		BackendURL:     v.GetString("backend.url"),
		BackendListen:  v.GetString("backend.listen"),
		RelayURL:       v.GetString("relay.url"),
		RelayListen:    v.GetString("relay.listen"),
		SignerTimeout:  v.GetDuration("signer.timeout"),
		PollInterval:   v.GetDuration("deeplink.poll_interval"),
		PollTimeout:    v.GetDuration("deeplink.poll_timeout"),
		StoreDriver:    strings.ToLower(v.GetString("store.driver")),
		StoreNamespace: v.GetString("store.namespace"),
		StoreTTL:       v.GetDuration("store.ttl"),
		EventsDriver:   strings.ToLower(v.GetString("events.driver")),
		RedisURL:       v.GetString("redis.url"),
		LogLevel:       v.GetString("log.level"),
		Mobile:         v.GetBool("mobile"),
		WalletAddress:  v.GetString("wallet.address"),
		WalletFlags:    v.GetStringSlice("wallet.flags"),
		WalletChain:    v.GetString("wallet.chain"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a flow
func (c Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if err := checkURL("backend.url", c.BackendURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.RelayURL != "" {
		if err := checkURL("relay.url", c.RelayURL, "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.SignerTimeout <= 0 {
		errs = append(errs, errors.New("signer.timeout must be positive"))
	}
	if c.PollInterval <= 0 || c.PollTimeout <= 0 {
		errs = append(errs, errors.New("deeplink poll interval and timeout must be positive"))
	}
	if c.PollInterval > c.PollTimeout {
		errs = append(errs, errors.New("deeplink.poll_interval exceeds deeplink.poll_timeout"))
	}

	switch c.StoreDriver {
	case StoreFile, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.StoreDriver))
	}
	switch c.EventsDriver {
	case EventsMemory, EventsRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown events.driver %q", c.EventsDriver))
	}

	return errors.Join(errs...)
}

// NeedsRedis reports whether any driver is backed by redis
func (c Config) NeedsRedis() bool {
	return c.StoreDriver == StoreRedis || c.EventsDriver == EventsRedis
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s url, got %q", key, strings.Join(schemes, "/"), raw)
}
