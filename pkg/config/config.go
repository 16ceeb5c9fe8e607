// Package config loads tablechat settings from a YAML file, TABLECHAT_*
// environment variables and bound command-line flags.
package config

import (
	"strings"
	"time"

	"github.com/go-go-golems/tablechat/pkg/llm"
	"github.com/go-go-golems/tablechat/pkg/persistence/chatstore"
	"github.com/go-go-golems/tablechat/pkg/redisstream"
	"github.com/go-go-golems/tablechat/pkg/sandbox"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "TABLECHAT"

type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	LLM       LLMConfig            `mapstructure:"llm"`
	Redis     RedisConfig          `mapstructure:"redis"`
	Store     StoreConfig          `mapstructure:"store"`
	Warehouse WarehouseConfig      `mapstructure:"warehouse"`
	Sandbox   SandboxConfig        `mapstructure:"sandbox"`
	Agent     AgentConfig          `mapstructure:"agent"`
	Events    redisstream.Settings `mapstructure:"events"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed-origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

// LLMConfig holds the two model roles: chat drives turns, complex serves
// SQL, code and chart-input generation.
type LLMConfig struct {
	Chat    llm.Settings `mapstructure:"chat"`
	Complex llm.Settings `mapstructure:"complex"`
}

// RedisConfig selects the memory store. Disabled keeps memory in process.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type StoreConfig struct {
	Driver     string      `mapstructure:"driver"`
	SQLitePath string      `mapstructure:"sqlite-path"`
	MySQL      MySQLConfig `mapstructure:"mysql"`
}

type MySQLConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
}

type WarehouseConfig struct {
	Path string `mapstructure:"path"`
}

type SandboxConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int64         `mapstructure:"max-concurrent"`
}

type AgentConfig struct {
	MaxToolRounds int    `mapstructure:"max-tool-rounds"`
	PromptsFile   string `mapstructure:"prompts-file"`
}

// SetDefaults registers every key so environment variables can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.allowed-origins", []string{"*"})
	v.SetDefault("server.shutdown-timeout", "30s")

	for _, role := range []string{"chat", "complex"} {
		v.SetDefault("llm."+role+".provider", llm.ProviderOpenAI)
		v.SetDefault("llm."+role+".api-type", "")
		v.SetDefault("llm."+role+".api-key", "")
		v.SetDefault("llm."+role+".base-url", "https://api.groq.com/openai/v1")
		v.SetDefault("llm."+role+".model", "llama-3.3-70b-versatile")
		v.SetDefault("llm."+role+".timeout", "120s")
	}
	v.SetDefault("llm.chat.temperature", 0.7)
	v.SetDefault("llm.complex.temperature", 1.0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "0s")

	v.SetDefault("store.driver", chatstore.DriverSQLite)
	v.SetDefault("store.sqlite-path", "tablechat.db")
	v.SetDefault("store.mysql.user", "")
	v.SetDefault("store.mysql.password", "")
	v.SetDefault("store.mysql.addr", "localhost:3306")
	v.SetDefault("store.mysql.database", "tablechat")

	v.SetDefault("warehouse.path", "warehouse.sqlite")

	v.SetDefault("sandbox.timeout", sandbox.DefaultTimeout)
	v.SetDefault("sandbox.max-concurrent", 4)

	v.SetDefault("agent.max-tool-rounds", 8)
	v.SetDefault("agent.prompts-file", "")

	ev := redisstream.DefaultSettings()
	v.SetDefault("events.enabled", ev.Enabled)
	v.SetDefault("events.addr", ev.Addr)
	v.SetDefault("events.group", ev.Group)
	v.SetDefault("events.consumer", ev.Consumer)
}

// Load reads configFile, or config.yaml from the search path when empty,
// over the defaults. A missing config.yaml on the search path is not an
// error. Flags bound on v beforehand take precedence over file and
// environment.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tablechat")
		v.AddConfigPath("/etc/tablechat")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "config: read")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case chatstore.DriverSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("config: store.sqlite-path is required for sqlite3")
		}
	case chatstore.DriverMySQL:
		if strings.TrimSpace(c.Store.MySQL.Addr) == "" || strings.TrimSpace(c.Store.MySQL.Database) == "" {
			return errors.New("config: store.mysql.addr and store.mysql.database are required for mysql")
		}
	default:
		return errors.Errorf("config: unsupported store.driver %q", c.Store.Driver)
	}
	if strings.TrimSpace(c.Warehouse.Path) == "" {
		return errors.New("config: warehouse.path is required")
	}
	if c.Sandbox.Timeout <= 0 {
		return errors.New("config: sandbox.timeout must be positive")
	}
	if c.Agent.MaxToolRounds <= 0 {
		return errors.New("config: agent.max-tool-rounds must be positive")
	}
	return nil
}

// BindFlags binds each flag of flags to the config key of the same name in
// keys, e.g. {"addr": "server.addr"}. Unknown flag names are an error.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			return errors.Errorf("config: no flag %q", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "config: bind %s", name)
		}
	}
	return nil
}

// DSN returns the chatstore DSN for the configured driver.
func (s StoreConfig) DSN() (string, error) {
	if s.Driver == chatstore.DriverMySQL {
		return chatstore.MySQLDSN(s.MySQL.User, s.MySQL.Password, s.MySQL.Addr, s.MySQL.Database), nil
	}
	return chatstore.SQLiteDSNForFile(s.SQLitePath)
}
