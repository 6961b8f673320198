package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/mahaj/groupchat/pkg/push"
)

const envPrefix = "CHAT"

// Firebase holds the push provider project credentials, read from CHAT_FIREBASE_*.
type Firebase struct {
	APIKey            string `envconfig:"API_KEY"`
	AuthDomain        string `envconfig:"AUTH_DOMAIN"`
	ProjectID         string `envconfig:"PROJECT_ID"`
	StorageBucket     string `envconfig:"STORAGE_BUCKET"`
	MessagingSenderID string `envconfig:"MESSAGING_SENDER_ID"`
	AppID             string `envconfig:"APP_ID"`
	VapidKey          string `envconfig:"VAPID_KEY"`
}

type Config struct {
	API      string `envconfig:"API" default:"http://localhost:4000"`
	DataDir  string `envconfig:"DATA_DIR"`
	Storage  string `envconfig:"STORAGE" default:"pebble"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// Profile namespaces shared redis state so the client and the notifier
	// of one user see the same keys.
	Profile string `envconfig:"PROFILE" default:"default"`

	// Notifications presets the notification permission: ask, granted or denied.
	Notifications string `envconfig:"NOTIFICATIONS" default:"ask"`

	RedisAddr     string   `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS" default:"localhost:19092"`
	PushTopic     string   `envconfig:"PUSH_TOPIC" default:"push-deliveries"`
	PushTransport string   `envconfig:"PUSH_TRANSPORT" default:"redis"`
	PushEndpoint  string   `envconfig:"PUSH_ENDPOINT" default:"http://localhost:9099"`

	Firebase Firebase
}

// Load reads .env (if present) and then the CHAT_* environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, errors.Wrap(err, "read config from env")
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	c.API = strings.TrimRight(c.API, "/")
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.API == "" {
		return errors.New("CHAT_API must not be empty")
	}
	switch c.Storage {
	case "pebble", "redis":
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	switch c.PushTransport {
	case "redis", "kafka", "none":
	default:
		return errors.Errorf("unknown push transport %q", c.PushTransport)
	}
	switch c.Notifications {
	case "ask", "granted", "denied":
	default:
		return errors.Errorf("unknown notifications mode %q", c.Notifications)
	}
	return nil
}

// PushEnabled reports whether the push pipeline can be configured at all.
func (c *Config) PushEnabled() bool {
	return c.PushTransport != "none" && c.Firebase.ProjectID != "" && c.Firebase.APIKey != ""
}

// PushApp is the push provider project the client registers with.
func (c *Config) PushApp() push.AppConfig {
	f := c.Firebase
	return push.AppConfig{
		APIKey:            f.APIKey,
		AuthDomain:        f.AuthDomain,
		ProjectID:         f.ProjectID,
		StorageBucket:     f.StorageBucket,
		MessagingSenderID: f.MessagingSenderID,
		AppID:             f.AppID,
		Endpoint:          c.PushEndpoint,
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".groupchat"
	}
	return filepath.Join(dir, "groupchat")
}
