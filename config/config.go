package config

import (
	"fmt"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/BookBrainz/bookbrainz-ws/logger"
)

type Config struct {
	HTTP     HTTPConfig  `group:"http" namespace:"http" env-namespace:"HTTP"`
	Database DBConfig    `group:"db" namespace:"db" env-namespace:"DB"`
	Redis    RedisConfig `group:"redis" namespace:"redis" env-namespace:"REDIS"`
	Auth     AuthConfig  `group:"auth" namespace:"auth" env-namespace:"AUTH"`

	Debug bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

type HTTPConfig struct {
	Listen            string        `long:"listen" env:"LISTEN" default:":8080" description:"listen address"`
	ReadHeaderTimeout time.Duration `long:"read-header-timeout" env:"READ_HEADER_TIMEOUT" default:"5s" description:"read header timeout"`
	ShutdownTimeout   time.Duration `long:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" default:"10s" description:"graceful shutdown timeout"`
}

type DBConfig struct {
	Host            string        `long:"host" env:"HOST" default:"127.0.0.1" description:"mysql host"`
	Port            int           `long:"port" env:"PORT" default:"3306" description:"mysql port"`
	User            string        `long:"user" env:"USER" default:"bookbrainz" description:"mysql user"`
	Password        string        `long:"password" env:"PASSWORD" description:"mysql password"`
	Name            string        `long:"name" env:"NAME" default:"bookbrainz" description:"mysql database"`
	MaxOpenConns    int           `long:"max-open-conns" env:"MAX_OPEN_CONNS" default:"10" description:"max open connections"`
	MaxIdleConns    int           `long:"max-idle-conns" env:"MAX_IDLE_CONNS" default:"5" description:"max idle connections"`
	ConnMaxLifetime time.Duration `long:"conn-max-lifetime" env:"CONN_MAX_LIFETIME" default:"15m" description:"connection max lifetime"`
	PingTimeout     time.Duration `long:"ping-timeout" env:"PING_TIMEOUT" default:"5s" description:"startup ping timeout"`
}

type RedisConfig struct {
	Addr         string        `long:"addr" env:"ADDR" default:"127.0.0.1:6379" description:"redis address"`
	Password     string        `long:"password" env:"PASSWORD" description:"redis password"`
	DB           int           `long:"db" env:"DB" default:"0" description:"redis database number"`
	KeyPrefix    string        `long:"key-prefix" env:"KEY_PREFIX" default:"bbws:" description:"prefix for every credential key"`
	DialTimeout  time.Duration `long:"dial-timeout" env:"DIAL_TIMEOUT" default:"5s" description:"dial timeout"`
	ReadTimeout  time.Duration `long:"read-timeout" env:"READ_TIMEOUT" default:"3s" description:"read timeout"`
	WriteTimeout time.Duration `long:"write-timeout" env:"WRITE_TIMEOUT" default:"3s" description:"write timeout"`
}

type AuthConfig struct {
	AccessTokenTTL time.Duration `long:"access-token-ttl" env:"ACCESS_TOKEN_TTL" default:"1h" description:"bearer token lifetime"`
	GrantTTL       time.Duration `long:"grant-ttl" env:"GRANT_TTL" default:"10m" description:"authorization code lifetime"`
	ClientCacheTTL time.Duration `long:"client-cache-ttl" env:"CLIENT_CACHE_TTL" default:"5m" description:"client lookup cache ttl, 0 disables"`
	AllowedScopes  []string      `long:"allowed-scope" env:"ALLOWED_SCOPES" env-delim:" " description:"scopes a client may request, empty allows any"`
	DefaultScopes  []string      `long:"default-scope" env:"DEFAULT_SCOPES" env-delim:" " description:"scopes granted when a request names none"`
}

// Load parses args and the environment into a validated Config.
func Load(args []string) (*Config, error) {
	var cfg Config
	p := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := p.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := validateHTTPConfig(&cfg.HTTP); err != nil {
		return nil, logger.LogErr(err)
	}
	if err := validateDBConfig(&cfg.Database); err != nil {
		return nil, logger.LogErr(err)
	}
	if err := validateRedisConfig(&cfg.Redis); err != nil {
		return nil, logger.LogErr(err)
	}
	if err := validateAuthConfig(&cfg.Auth); err != nil {
		return nil, logger.LogErr(err)
	}

	return &cfg, nil
}

// Secrets lists configured values that must never reach the log.
func (c *Config) Secrets() []string {
	return []string{c.Database.Password, c.Redis.Password}
}

func validateHTTPConfig(cfg *HTTPConfig) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("HTTP_LISTEN must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("HTTP_READ_HEADER_TIMEOUT must be greater than zero")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP_SHUTDOWN_TIMEOUT must be greater than zero")
	}
	return nil
}

func validateDBConfig(cfg *DBConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535")
	}

	if cfg.MaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be greater than zero")
	}

	if cfg.MaxIdleConns < 0 {
		return fmt.Errorf("DB_MAX_IDLE_CONNS must be zero or a positive integer")
	}

	if cfg.ConnMaxLifetime < 0 {
		return fmt.Errorf("DB_CONN_MAX_LIFETIME must be zero or a positive duration")
	}

	if cfg.PingTimeout <= 0 {
		return fmt.Errorf("DB_PING_TIMEOUT must be greater than zero")
	}

	return nil
}

func validateRedisConfig(cfg *RedisConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("REDIS_ADDR must not be empty")
	}
	if cfg.DB < 0 {
		return fmt.Errorf("REDIS_DB must be zero or a positive integer")
	}
	if cfg.DialTimeout <= 0 || cfg.ReadTimeout <= 0 || cfg.WriteTimeout <= 0 {
		return fmt.Errorf("REDIS timeouts must be greater than zero")
	}
	return nil
}

func validateAuthConfig(cfg *AuthConfig) error {
	if cfg.AccessTokenTTL < time.Second {
		return fmt.Errorf("AUTH_ACCESS_TOKEN_TTL must be at least one second")
	}
	if cfg.GrantTTL < time.Second {
		return fmt.Errorf("AUTH_GRANT_TTL must be at least one second")
	}
	if cfg.ClientCacheTTL < 0 {
		return fmt.Errorf("AUTH_CLIENT_CACHE_TTL must be zero or a positive duration")
	}
	if len(cfg.AllowedScopes) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedScopes))
	for _, s := range cfg.AllowedScopes {
		allowed[s] = struct{}{}
	}
	for _, s := range cfg.DefaultScopes {
		if _, ok := allowed[s]; !ok {
			return fmt.Errorf("AUTH_DEFAULT_SCOPES contains %q which is not in AUTH_ALLOWED_SCOPES", s)
		}
	}
	return nil
}
