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
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RabbitURL               string `yaml:"rabbit_url" env:"RABBIT_URL"`
	RabbitExchange          string `yaml:"rabbit_exchange" env-default:"billing.events"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	PaymentProvider         `yaml:"payment_provider"`
	Lifecycle               `yaml:"lifecycle"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
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
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// PaymentProvider структура с реквизитами платёжного провайдера
// (hosted-платёжная страница, low-profile API).
type PaymentProvider struct {
	APIURL         string        `yaml:"api_url"`
	TerminalNumber string        `yaml:"terminal_number" env:"PROVIDER_TERMINAL_NUMBER"`
	APIName        string        `yaml:"api_name" env:"PROVIDER_API_NAME"`
	APIPassword    string        `yaml:"api_password" env:"PROVIDER_API_PASSWORD"`
	WebhookURL     string        `yaml:"webhook_url"`
	SuccessURL     string        `yaml:"success_url"`
	FailureURL     string        `yaml:"failure_url"`
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"10s"`
}

// Lifecycle структура с настройками жизненного цикла подписки.
type Lifecycle struct {
	GracePeriodDays int           `yaml:"grace_period_days" env-default:"7"`
	SessionTTL      time.Duration `yaml:"session_ttl" env-default:"30m"`
}

// MustLoad функция для загрузки конфига, путь до файла берётся из CONFIG_PATH
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
	return &cfg
}
