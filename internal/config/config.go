package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Currency CurrencyConfig `mapstructure:"currency"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// EngineConfig locates the local trading-engine process.
type EngineConfig struct {
	URL      string `mapstructure:"url"`
	Userpass string `mapstructure:"userpass"`
}

type CurrencyConfig struct {
	DefaultFiat     string             `mapstructure:"default_fiat"`
	ReferenceCrypto string             `mapstructure:"reference_crypto"`
	FiatRates       map[string]float64 `mapstructure:"fiat_rates"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	// Local development overrides; absence is fine.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/barterdex")
	}

	v.SetEnvPrefix("BARTERDEX")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 17771)

	// Engine defaults
	v.SetDefault("engine.url", "ws://127.0.0.1:7783/ws")
	v.SetDefault("engine.userpass", "")

	// Currency defaults
	v.SetDefault("currency.default_fiat", "usd")
	v.SetDefault("currency.reference_crypto", "KMD")
	v.SetDefault("currency.fiat_rates.usd", 1.0)
	v.SetDefault("currency.fiat_rates.eur", 0.9)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func overrideFromEnv(config *Config) {
	if url := os.Getenv("MARKETMAKER_URL"); url != "" {
		config.Engine.URL = url
	}
	if userpass := os.Getenv("MARKETMAKER_USERPASS"); userpass != "" {
		config.Engine.Userpass = userpass
	}
}
