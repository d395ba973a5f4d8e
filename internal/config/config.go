// Package config provides configuration management for the relay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	YouTube  YouTubeConfig
	Twitch   TwitchConfig
	Blog     BlogConfig
	Discord  DiscordConfig
	Renewal  RenewalConfig
	Poller   PollerConfig
	Logging  LoggingConfig
}

// ServerConfig contains HTTP server configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ServerConfig struct {
	Port             int
	ShutdownTimeout  time.Duration
	MaxPayloadSize   int64
	PublicURL        string
	SiteVerification string
	MetricsAPIKeys   []string
}

// CallbackURL joins the public base URL with a callback path.
func (s ServerConfig) CallbackURL(path string) string {
	return strings.TrimRight(s.PublicURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// DatabaseConfig contains database connection configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type DatabaseConfig struct {
	Host           string
	Name           string
	User           string
	Password       string
	SSLMode        string
	Port           int
	MaxConnections int
	MinConnections int
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
	LockTimeout    time.Duration
}

// URL returns the database URL form used by the migration runner.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// RabbitMQConfig contains the event mirror connection configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RabbitMQConfig struct {
	Enabled    bool
	Host       string
	User       string
	Password   string
	Exchange   string
	RoutingKey string
	Port       int
}

// YouTubeConfig contains the video provider settings.
type YouTubeConfig struct {
	APIKey string
	HubURL string
}

// TwitchConfig contains the livestream provider settings.
type TwitchConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	ValidateURL  string
	APIURL       string
	HubURL       string
}

// BlogConfig contains the blog provider settings.
type BlogConfig struct {
	APIKey            string
	BlogID            string
	Name              string
	ThumbnailURL      string
	AvatarURLTemplate string
}

// DiscordConfig contains the messaging collaborator settings.
type DiscordConfig struct {
	Token  string
	APIURL string
}

// RenewalConfig controls the hub lease renewal loop.
type RenewalConfig struct {
	Interval      time.Duration
	LeaseSeconds  int
	Pause         time.Duration
	PingURL       string
	PingInterval  time.Duration
	TokenInterval time.Duration
}

// PollerConfig controls the post-update poller.
type PollerConfig struct {
	Interval  time.Duration
	MaxMisses int
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string
	File  string
}

// Load reads .env (when present), then config.yaml from . or ./config, then APP_* environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.shutdowntimeout", 30*time.Second)
	viper.SetDefault("server.maxpayloadsize", 1048576) // 1MB
	viper.SetDefault("server.publicurl", "http://localhost:8080")
	viper.SetDefault("server.siteverification", "")
	viper.SetDefault("server.metricsapikeys", []string{})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "relay")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxconnections", 10)
	viper.SetDefault("database.minconnections", 2)
	viper.SetDefault("database.maxidletime", 10*time.Minute)
	viper.SetDefault("database.maxlifetime", 1*time.Hour)
	viper.SetDefault("database.locktimeout", 5*time.Second)

	// RabbitMQ event mirror
	viper.SetDefault("rabbitmq.enabled", false)
	viper.SetDefault("rabbitmq.host", "localhost")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.exchange", "relay.events")
	viper.SetDefault("rabbitmq.routingkey", "event")

	// Providers
	viper.SetDefault("youtube.apikey", "")
	viper.SetDefault("youtube.huburl", "https://pubsubhubbub.appspot.com/subscribe")
	viper.SetDefault("twitch.clientid", "")
	viper.SetDefault("twitch.clientsecret", "")
	viper.SetDefault("twitch.tokenurl", "https://id.twitch.tv/oauth2/token")
	viper.SetDefault("twitch.validateurl", "https://id.twitch.tv/oauth2/validate")
	viper.SetDefault("twitch.apiurl", "https://api.twitch.tv/helix")
	viper.SetDefault("twitch.huburl", "https://api.twitch.tv/helix/webhooks/hub")
	viper.SetDefault("blog.apikey", "")
	viper.SetDefault("blog.blogid", "")
	viper.SetDefault("blog.name", "Surrender@20")
	viper.SetDefault("blog.thumbnailurl", "")
	viper.SetDefault("blog.avatarurltemplate", "https://disqus.com/api/users/avatars/%s.jpg")
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.apiurl", "https://discord.com/api/v10")

	// Renewal
	viper.SetDefault("renewal.interval", 24*time.Hour)
	viper.SetDefault("renewal.leaseseconds", 864000) // 10 days
	viper.SetDefault("renewal.pause", 2*time.Second)
	viper.SetDefault("renewal.pingurl", "")
	viper.SetDefault("renewal.pinginterval", 3*time.Minute)
	viper.SetDefault("renewal.tokeninterval", time.Hour)

	// Poller
	viper.SetDefault("poller.interval", 5*time.Minute)
	viper.SetDefault("poller.maxmisses", 288)

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.file", "")
}
