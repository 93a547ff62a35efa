package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port            string `mapstructure:"port"`
		Env             string `mapstructure:"env"`
		BaseURL         string `mapstructure:"baseUrl"`
		ReadTimeout     int    `mapstructure:"readTimeout"`
		WriteTimeout    int    `mapstructure:"writeTimeout"`
		ShutdownTimeout int    `mapstructure:"shutdownTimeout"`
	} `mapstructure:"app"`
	Database struct {
		DSN            string `mapstructure:"dsn"`
		MigrationsPath string `mapstructure:"migrationsPath"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
		Prices        struct {
			Starter string `mapstructure:"starter"`
			Growth  string `mapstructure:"growth"`
			Pro     string `mapstructure:"pro"`
		} `mapstructure:"prices"`
	} `mapstructure:"stripe"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
	Billing struct {
		// Lifetime of the provisional row written before the first webhook
		// arrives; generous on purpose, overwritten by authoritative state.
		ProvisionalPeriodDays int `mapstructure:"provisionalPeriodDays"`
		// Grace window before an expired period end is considered stale and
		// re-synced from the provider.
		StalenessWindowHours int `mapstructure:"stalenessWindowHours"`
	} `mapstructure:"billing"`
	Email struct {
		PostmarkToken string `mapstructure:"postmarkToken"`
		FromAddress   string `mapstructure:"fromAddress"`
	} `mapstructure:"email"`
}

// ProvisionalPeriod возвращает срок действия провизорной записи.
func (c *Config) ProvisionalPeriod() time.Duration {
	return time.Duration(c.Billing.ProvisionalPeriodDays) * 24 * time.Hour
}

// StalenessWindow возвращает допустимое окно устаревания записи.
func (c *Config) StalenessWindow() time.Duration {
	return time.Duration(c.Billing.StalenessWindowHours) * time.Hour
}

// Load загружает конфигурацию из файла и переменных окружения.
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// .env отсутствует в production окружении, это не ошибка
		_ = godotenv.Load()
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("app.port", "8080")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.readTimeout", 15)
	viper.SetDefault("app.writeTimeout", 15)
	viper.SetDefault("app.shutdownTimeout", 10)
	viper.SetDefault("database.migrationsPath", "migrations")
	viper.SetDefault("kafka.topic", "billing_events")
	viper.SetDefault("billing.provisionalPeriodDays", 30)
	viper.SetDefault("billing.stalenessWindowHours", 24)

	viper.AutomaticEnv() // Чтение переменных окружения

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
		// Конфиг-файл опционален, переменных окружения достаточно
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return &config, nil
}
