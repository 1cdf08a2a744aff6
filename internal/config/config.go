// Package config loads the service configuration from config.yaml with
// environment-variable overrides and sane defaults for local runs.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		DataPort int `mapstructure:"data_port"`
		APIPort  int `mapstructure:"api_port"`
	} `mapstructure:"server"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Redis struct {
		Addr      string        `mapstructure:"addr"`
		SampleTTL time.Duration `mapstructure:"sample_ttl"`
	} `mapstructure:"redis"`
	Monitor struct {
		Interval       time.Duration `mapstructure:"interval"`
		StalenessBound time.Duration `mapstructure:"staleness_bound"`
	} `mapstructure:"monitor"`
	Retention struct {
		Raw            time.Duration `mapstructure:"raw"`
		Hourly         time.Duration `mapstructure:"hourly"`
		Daily          time.Duration `mapstructure:"daily"`
		ResolvedAlerts time.Duration `mapstructure:"resolved_alerts"`
		SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"retention"`
	Trend struct {
		SignificancePercent float64 `mapstructure:"significance_percent"`
	} `mapstructure:"trend"`
	Auth struct {
		JWTSecret     string   `mapstructure:"jwt_secret"`
		JWTExpiration int      `mapstructure:"jwt_expiration"` // minutes
		APIKeys       []string `mapstructure:"api_keys"`
		Users         []User   `mapstructure:"users"`
	} `mapstructure:"auth"`
}

type User struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// Load reads config.yaml from path. A missing file is not fatal: defaults
// cover every key so the service can start against an empty directory.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("SUBSTATION")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Retention.Hourly < cfg.Retention.Raw {
		return Config{}, fmt.Errorf("hourly retention (%s) must be >= raw retention (%s)", cfg.Retention.Hourly, cfg.Retention.Raw)
	}
	if cfg.Retention.Daily < cfg.Retention.Hourly {
		return Config{}, fmt.Errorf("daily retention (%s) must be >= hourly retention (%s)", cfg.Retention.Daily, cfg.Retention.Hourly)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.data_port", 8080)
	v.SetDefault("server.api_port", 8081)
	v.SetDefault("database.path", "digital_twin.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.sample_ttl", time.Minute)
	v.SetDefault("monitor.interval", time.Minute)
	v.SetDefault("monitor.staleness_bound", 5*time.Minute)
	v.SetDefault("retention.raw", 48*time.Hour)
	v.SetDefault("retention.hourly", 35*24*time.Hour)
	v.SetDefault("retention.daily", 365*24*time.Hour)
	v.SetDefault("retention.resolved_alerts", 30*24*time.Hour)
	v.SetDefault("retention.sweep_interval", time.Hour)
	v.SetDefault("trend.significance_percent", 0.1)
	v.SetDefault("auth.jwt_secret", "dev-only-secret")
	v.SetDefault("auth.jwt_expiration", 60)
	v.SetDefault("auth.api_keys", []string{"dev-key"})
}
