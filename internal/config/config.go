package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type FCMConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Endpoint  string        `mapstructure:"endpoint"`
	ServerKey string        `mapstructure:"server_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	SweepLookback time.Duration `mapstructure:"sweep_lookback"`
	ApproveGrace  time.Duration `mapstructure:"approve_grace"`
}

type Config struct {
	DatabaseURL string          `mapstructure:"database_url"`
	ServerPort  string          `mapstructure:"server_port"`
	JWTSecret   string          `mapstructure:"jwt_secret"`
	CORSOrigin  string          `mapstructure:"cors_origin"`
	FCM         FCMConfig       `mapstructure:"fcm"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}

	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}

	if config.CORSOrigin == "" {
		config.CORSOrigin = "http://localhost:3000"
	}

	if config.FCM.Endpoint == "" {
		config.FCM.Endpoint = "https://fcm.googleapis.com/fcm/send"
	}
	if config.FCM.Timeout == 0 {
		config.FCM.Timeout = 10 * time.Second
	}

	if config.Scheduler.SweepLookback == 0 {
		config.Scheduler.SweepLookback = 15 * time.Minute
	}
	if config.Scheduler.ApproveGrace == 0 {
		config.Scheduler.ApproveGrace = time.Minute
	}

	return &config
}
