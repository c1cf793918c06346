package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config is the root configuration loaded at startup.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentRecorded string `mapstructure:"payment_recorded"`
	BudgetAlert     string `mapstructure:"budget_alert"`
}

type BusinessConfig struct {
	// SweepSchedule is a cron expression for the daily overdue sweep.
	SweepSchedule string `mapstructure:"sweep_schedule"`
	// PlanDefaultThreshold is the number of overdue installments after
	// which a payment plan is marked defaulted.
	PlanDefaultThreshold int `mapstructure:"plan_default_threshold"`
	MaxRetryCount        int `mapstructure:"max_retry_count"`
}

var GlobalConfig *Config

// LoadConfig reads the yaml configuration file at configPath.
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("failed to parse config file: %v", err)
	}

	if config.Business.SweepSchedule == "" {
		config.Business.SweepSchedule = "0 1 * * *"
	}
	if config.Business.PlanDefaultThreshold <= 0 {
		config.Business.PlanDefaultThreshold = 3
	}
	if config.Business.MaxRetryCount <= 0 {
		config.Business.MaxRetryCount = 3
	}

	GlobalConfig = config
	return config
}
