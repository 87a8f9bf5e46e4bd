package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Bus      BusConfig      `mapstructure:"bus"`
	Host     HostConfig     `mapstructure:"host"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects where the port extender configuration is persisted.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "file" or "postgres"
	Path    string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv      string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL    time.Duration `mapstructure:"access_token_ttl"`
	AdminUser         string        `mapstructure:"admin_user"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`
	HostTokenHash     string        `mapstructure:"host_token_hash"`
}

// BusConfig controls how I2C buses are opened.
type BusConfig struct {
	Simulate           bool  `mapstructure:"simulate"`
	SimulatedAddresses []int `mapstructure:"simulated_addresses"`
	DefaultBus         int   `mapstructure:"default_bus"`
}

// HostConfig seeds the host adapter until the controller reports its own values.
type HostConfig struct {
	StationCount int  `mapstructure:"station_count"`
	ActiveLow    bool `mapstructure:"active_low"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return decode(v)
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.path", "data/pex_config.json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "portextender")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.admin_user", "admin")

	v.SetDefault("bus.simulate", false)
	v.SetDefault("bus.simulated_addresses", []int{0x20, 0x25, 0x27})
	v.SetDefault("bus.default_bus", 1)

	v.SetDefault("host.station_count", 8)
	v.SetDefault("host.active_low", false)
}

// bindEnv maps PEX_SERVER_HTTP_PORT, PEX_BUS_SIMULATE, ... onto the nested keys.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("PEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if config.Storage.Backend != "file" && config.Storage.Backend != "postgres" {
		return nil, fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}
	for _, a := range config.Bus.SimulatedAddresses {
		if a < 0 || a > 0x7F {
			return nil, fmt.Errorf("simulated address %d out of range", a)
		}
	}
	return &config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// GetJWTSecret reads the signing secret from the configured environment variable.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}

// Addresses converts the configured list to bus addresses.
func (b *BusConfig) Addresses() []uint8 {
	out := make([]uint8, 0, len(b.SimulatedAddresses))
	for _, a := range b.SimulatedAddresses {
		out = append(out, uint8(a))
	}
	return out
}
