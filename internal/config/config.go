package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "BOOSTBOT"
	defaultHTTPAddress     = "0.0.0.0:4444"
	defaultDatabasePath    = "boostbot.db"
	defaultSessionPath     = "boost-sessions.json"
	defaultLogLevel        = "info"
	defaultBucketSeconds   = 120
	defaultGraceWindow     = 30 * time.Second
	defaultDedupeWindow    = 5 * time.Minute
	defaultDedupeMaxRecent = 5
	defaultDedupeCompare   = 2
	defaultDedupeThreshold = 0.9
)

var defaultRelays = []string{
	"wss://relay.damus.io",
	"wss://relay.nostr.band",
	"wss://relay.primal.net",
}

// AppConfig captures runtime configuration for the webhook service.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	SessionPath  string
	LogLevel     string

	NostrSecretKey string
	NostrRelays    []string
	NostrTestMode  bool

	AllowedSenders []string
	BucketSeconds  int64
	GraceWindow    time.Duration

	DedupeWindow    time.Duration
	DedupeMaxRecent int
	DedupeCompare   int
	DedupeThreshold float64

	NameMentions map[string]string
	ShowMentions map[string][]string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("session.path", defaultSessionPath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("nostr.relays", defaultRelays)
	configViper.SetDefault("nostr.test_mode", false)
	configViper.SetDefault("boost.allowed_senders", []string{})
	configViper.SetDefault("boost.bucket_seconds", defaultBucketSeconds)
	configViper.SetDefault("boost.grace_window", defaultGraceWindow)
	configViper.SetDefault("dedupe.window", defaultDedupeWindow)
	configViper.SetDefault("dedupe.max_recent", defaultDedupeMaxRecent)
	configViper.SetDefault("dedupe.compare_last", defaultDedupeCompare)
	configViper.SetDefault("dedupe.threshold", defaultDedupeThreshold)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		SessionPath:     configViper.GetString("session.path"),
		LogLevel:        configViper.GetString("log.level"),
		NostrSecretKey:  configViper.GetString("nostr.secret_key"),
		NostrRelays:     configViper.GetStringSlice("nostr.relays"),
		NostrTestMode:   configViper.GetBool("nostr.test_mode"),
		AllowedSenders:  configViper.GetStringSlice("boost.allowed_senders"),
		BucketSeconds:   configViper.GetInt64("boost.bucket_seconds"),
		GraceWindow:     configViper.GetDuration("boost.grace_window"),
		DedupeWindow:    configViper.GetDuration("dedupe.window"),
		DedupeMaxRecent: configViper.GetInt("dedupe.max_recent"),
		DedupeCompare:   configViper.GetInt("dedupe.compare_last"),
		DedupeThreshold: configViper.GetFloat64("dedupe.threshold"),
		NameMentions:    configViper.GetStringMapString("mentions.names"),
		ShowMentions:    configViper.GetStringMapStringSlice("mentions.shows"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.NostrSecretKey) == "" && !c.NostrTestMode {
		return fmt.Errorf("nostr.secret_key is required unless nostr.test_mode is set")
	}
	if len(c.NostrRelays) == 0 {
		return fmt.Errorf("nostr.relays must name at least one relay")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionPath) == "" {
		return fmt.Errorf("session.path is required")
	}
	if c.BucketSeconds <= 0 {
		return fmt.Errorf("boost.bucket_seconds must be positive")
	}
	if c.GraceWindow <= 0 {
		return fmt.Errorf("boost.grace_window must be positive")
	}
	if c.DedupeThreshold <= 0 || c.DedupeThreshold > 1 {
		return fmt.Errorf("dedupe.threshold must be in (0, 1]")
	}
	return nil
}
