package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsPort int    `envconfig:"METRICS_PORT" default:"9090"`

	// BaseURL — внешний адрес сервиса, из него собираются ссылки
	// feedbackUrl и statusUrl в ответе на создание сессии.
	BaseURL string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	// APIKey закрывает программные эндпоинты. Пустое значение
	// отключает проверку (только для dev).
	APIKey string `envconfig:"API_KEY"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	// PGDSN — аудит-хранилище истории сессий. Пустое значение
	// отключает аудит, ядро работает без него.
	PGDSN string `envconfig:"PG_DSN"`

	AMQP struct {
		// URL брокера для ретрансляции событий внешним
		// подписчикам. Пустое значение отключает ретрансляцию.
		URL      string `envconfig:"AMQP_URL"`
		Exchange string `envconfig:"AMQP_EVENTS_EXCHANGE" default:"feedback_events"`
	} `envconfig:""`

	WS struct {
		AllowedOrigin string `envconfig:"WS_ALLOWED_ORIGIN" default:"*"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
