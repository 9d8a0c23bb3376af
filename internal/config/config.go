// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	RabbitURL               string `yaml:"rabbit_url"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	Stripe                  `yaml:"stripe"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// Stripe содержит учётные данные платёжного шлюза. Секретный ключ API
// и секрет подписи вебхуков обязательны: без них процесс не стартует —
// отсутствие секрета это ошибка конфигурации, а не ошибка рантайма.
type Stripe struct {
	SecretKey      string        `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret  string        `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	ClientURL      string        `yaml:"client_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MustLoad функция для загрузки конфига, завершает процесс при любой
// ошибке: отсутствующий файл, нечитаемый yaml или пустые секреты шлюза.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	if cfg.Stripe.SecretKey == "" {
		log.Fatal("stripe secret_key is not set")
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Fatal("stripe webhook_secret is not set")
	}
	if cfg.Stripe.RequestTimeout == 0 {
		cfg.Stripe.RequestTimeout = 10 * time.Second
	}
	return &cfg
}
