package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values (production)
const (
	DefaultDomain   = "meshcall.qzz.io"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "turn:meshcall.qzz.io"
	DefaultTURNUser = "meshcall"
	DefaultTURNPass = "meshcall-secret"

	DefaultBrokerAddr  = ":8080"
	DefaultRedisPrefix = "meshcall"
	DefaultLogLevel    = "error"
)

// Config holds application configuration
type Config struct {
	// Domain is the broker's public domain
	Domain string

	// BrokerURL is the websocket endpoint, derived from Domain unless set
	BrokerURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	Media  MediaConfig
	Timing TimingConfig
	Broker BrokerConfig

	LogLevel string
}

// MediaConfig points at the files standing in for capture devices.
type MediaConfig struct {
	Microphone string
	Camera     string
	Display    string
}

// TimingConfig holds the mesh protocol delays.
type TimingConfig struct {
	Settle          time.Duration
	Stagger         time.Duration
	Grace           time.Duration
	ChannelTimeout  time.Duration
	RegisterTimeout time.Duration
}

// BrokerConfig configures the broker server.
type BrokerConfig struct {
	Addr        string
	RedisAddr   string
	RedisPrefix string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile string

	Domain     string
	BrokerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	Microphone string
	Camera     string
	Display    string

	BrokerAddr  string
	RedisAddr   string
	RedisPrefix string

	LogLevel string
}

// Legacy environment names still honoured next to the MESHCALL_ ones.
var legacyEnv = map[string]string{
	"domain":    "DOMAIN",
	"stun":      "STUN_SERVER",
	"turn":      "TURN_SERVER",
	"turn_user": "TURN_USERNAME",
	"turn_pass": "TURN_PASSWORD",
	"log_level": "LOG_LEVEL",
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (MESHCALL_*, plus the legacy names)
// 3. Config file (meshcall.yaml, or Options.ConfigFile)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()

	v.SetDefault("domain", DefaultDomain)
	v.SetDefault("broker_url", "")
	v.SetDefault("stun", DefaultSTUN)
	v.SetDefault("turn", DefaultTURN)
	v.SetDefault("turn_user", DefaultTURNUser)
	v.SetDefault("turn_pass", DefaultTURNPass)
	v.SetDefault("relay", false)
	v.SetDefault("media.microphone", "")
	v.SetDefault("media.camera", "")
	v.SetDefault("media.display", "")
	v.SetDefault("timing.settle", "1s")
	v.SetDefault("timing.stagger", "300ms")
	v.SetDefault("timing.grace", "2s")
	v.SetDefault("timing.channel_timeout", "10s")
	v.SetDefault("timing.register_timeout", "15s")
	v.SetDefault("broker.addr", DefaultBrokerAddr)
	v.SetDefault("broker.redis_addr", "")
	v.SetDefault("broker.redis_prefix", DefaultRedisPrefix)
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetEnvPrefix("MESHCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "MESHCALL_"+strings.ToUpper(key), env); err != nil {
			return nil, err
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("meshcall")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/meshcall")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Domain:     pick(opts.Domain, v.GetString("domain")),
		BrokerURL:  pick(opts.BrokerURL, v.GetString("broker_url")),
		STUNServer: pick(opts.STUNServer, v.GetString("stun")),
		TURNServer: pick(opts.TURNServer, v.GetString("turn")),
		TURNUser:   pick(opts.TURNUser, v.GetString("turn_user")),
		TURNPass:   pick(opts.TURNPass, v.GetString("turn_pass")),
		ForceRelay: opts.ForceRelay || v.GetBool("relay"),
		Media: MediaConfig{
			Microphone: pick(opts.Microphone, v.GetString("media.microphone")),
			Camera:     pick(opts.Camera, v.GetString("media.camera")),
			Display:    pick(opts.Display, v.GetString("media.display")),
		},
		Timing: TimingConfig{
			Settle:          v.GetDuration("timing.settle"),
			Stagger:         v.GetDuration("timing.stagger"),
			Grace:           v.GetDuration("timing.grace"),
			ChannelTimeout:  v.GetDuration("timing.channel_timeout"),
			RegisterTimeout: v.GetDuration("timing.register_timeout"),
		},
		Broker: BrokerConfig{
			Addr:        pick(opts.BrokerAddr, v.GetString("broker.addr")),
			RedisAddr:   pick(opts.RedisAddr, v.GetString("broker.redis_addr")),
			RedisPrefix: pick(opts.RedisPrefix, v.GetString("broker.redis_prefix")),
		},
		LogLevel: pick(opts.LogLevel, v.GetString("log_level")),
	}

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = fmt.Sprintf("wss://%s/ws", cfg.Domain)
	}
	if cfg.Timing.Settle <= 0 || cfg.Timing.ChannelTimeout <= 0 || cfg.Timing.Stagger < 0 {
		return nil, fmt.Errorf("invalid timing: settle %s, stagger %s, channel timeout %s",
			cfg.Timing.Settle, cfg.Timing.Stagger, cfg.Timing.ChannelTimeout)
	}
	return cfg, nil
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

// RoomLink returns the shareable link for a room
func (c *Config) RoomLink(room string) string {
	return fmt.Sprintf("https://%s/r/%s", c.Domain, room)
}

// STUNServers returns STUN server URLs as strings
func (c *Config) STUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// TURNServers returns TURN server URLs if configured
func (c *Config) TURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// TURNCredentials returns TURN username and password
func (c *Config) TURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
