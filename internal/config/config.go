/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables (with an
 * optional .env file), providing a centralized way to manage settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the charity service.
// These values are loaded from environment variables.
type Config struct {
	AppEnv                     string `mapstructure:"APP_ENV"`
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	JWTSecret                  string `mapstructure:"JWT_SECRET"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	DonationRateLimitPerMinute int    `mapstructure:"DONATION_RATE_LIMIT_PER_MINUTE"`
	GoogleCredentialsJSON      string `mapstructure:"GOOGLE_CREDENTIALS_JSON"`
	ReportShareEmail           string `mapstructure:"REPORT_SHARE_EMAIL"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "charity:rate_limit")
	viper.SetDefault("DONATION_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("APP_ENV")
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("DONATION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("GOOGLE_CREDENTIALS_JSON")
	_ = viper.BindEnv("REPORT_SHARE_EMAIL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A malformed file is worth failing on; a missing one is not.
			return Config{}, err
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	// PORT wins over SERVER_PORT for platforms that inject it.
	if port := strings.TrimSpace(viper.GetString("PORT")); port != "" {
		config.ServerPort = port
	}

	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "charity:rate_limit"
	}
	if config.DonationRateLimitPerMinute < 0 {
		config.DonationRateLimitPerMinute = 0
	}

	if config.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if config.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	return
}
