// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Режимы расписания напоминаний.
const (
	ModeFixed  = "fixed"
	ModeHourly = "hourly"
)

// Способы доставки сообщений в Telegram.
const (
	TelegramDirect = "direct"
	TelegramQueue  = "queue"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	HTTPServer              `yaml:"http_server"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	Telegram                Telegram  `yaml:"telegram"`
	Scheduler               Scheduler `yaml:"scheduler"`
}

// HTTPServer структура для настройки служебного сервера (/healthz, /jobs, /metrics)
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ структура для настройки очереди исходящих сообщений
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
	Exchange           string        `yaml:"exchange" env-default:"notifications"`
	Queue              string        `yaml:"queue" env-default:"reminders"`
	RoutingKey         string        `yaml:"routing_key" env-default:"reminder"`
	Workers            int           `yaml:"workers" env-default:"10"`
}

// Telegram настройки клиента Bot API
type Telegram struct {
	Token           string        `yaml:"token" env:"BOT_TOKEN"`
	APIURL          string        `yaml:"api_url" env-default:"https://api.telegram.org"`
	Mode            string        `yaml:"mode" env-default:"direct" validate:"oneof=direct queue"`
	Timeout         time.Duration `yaml:"timeout" env-default:"10s"`
	RateLimit       float64       `yaml:"rate_limit" env-default:"25"`
	Burst           int           `yaml:"burst" env-default:"5"`
	BreakerFailures uint32        `yaml:"breaker_failures" env-default:"5"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" env-default:"30s"`
}

// At время срабатывания задачи, UTC
type At struct {
	Hour   int `yaml:"hour" validate:"min=0,max=23"`
	Minute int `yaml:"minute" validate:"min=0,max=59"`
}

// WeeklyAt время срабатывания еженедельной сводки.
// Weekday в нумерации ISO: 1 = понедельник, 7 = воскресенье.
type WeeklyAt struct {
	Weekday int `yaml:"weekday" env-default:"1" validate:"min=1,max=7"`
	At      `yaml:",inline"`
}

// Day возвращает день недели в терминах пакета time
func (w WeeklyAt) Day() time.Weekday {
	return time.Weekday(w.Weekday % 7)
}

// MonthlyAt время срабатывания ежемесячного отчёта
type MonthlyAt struct {
	Day int `yaml:"day" env-default:"1" validate:"min=1,max=28"`
	At  `yaml:",inline"`
}

// Scheduler настройки расписания и раннера задач
type Scheduler struct {
	Mode              string        `yaml:"mode" env:"SCHEDULER_MODE" env-default:"fixed" validate:"oneof=fixed hourly"`
	Daily             At            `yaml:"daily"`
	Weekly            WeeklyAt      `yaml:"weekly"`
	Monthly           MonthlyAt     `yaml:"monthly"`
	HourlyMinute      int           `yaml:"hourly_minute" validate:"min=0,max=59"`
	DaysBefore        int           `yaml:"days_before" env-default:"1" validate:"min=1,max=365"`
	TopN              int           `yaml:"top_n" env-default:"3" validate:"min=1,max=50"`
	DefaultNotifyHour int           `yaml:"default_notify_hour" env-default:"9" validate:"min=0,max=23"`
	MisfireGrace      time.Duration `yaml:"misfire_grace" env-default:"5m" validate:"min=0"`
	PollInterval      time.Duration `yaml:"poll_interval" env-default:"30s" validate:"min=1000000000"`
	JobTimeout        time.Duration `yaml:"job_timeout" env-default:"5m" validate:"min=1000000000"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env-default:"30s"`
	UseLock           bool          `yaml:"use_lock"`
	LockTTL           time.Duration `yaml:"lock_ttl" env-default:"10m"`
}

// Validate проверяет настройки расписания до первого запуска задач
func (s Scheduler) Validate() error {
	const op = "config.Scheduler.Validate"

	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.UseLock && s.LockTTL < s.JobTimeout {
		return fmt.Errorf("%s: lock_ttl %s is shorter than job_timeout %s", op, s.LockTTL, s.JobTimeout)
	}
	return nil
}

// Validate проверяет весь конфиг
func (c *Config) Validate() error {
	const op = "config.Validate"

	if c.StorageConnectionString == "" {
		return fmt.Errorf("%s: storage_connection_string is empty", op)
	}
	if err := validator.New().Struct(c.Telegram); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.Telegram.Mode == TelegramQueue && c.RabbitMQURL == "" {
		return fmt.Errorf("%s: telegram.mode=queue requires rabbitmq.url", op)
	}
	if c.Scheduler.UseLock && c.AddressRedis == "" {
		return fmt.Errorf("%s: scheduler.use_lock requires redis_connection.addressredis", op)
	}
	return c.Scheduler.Validate()
}

// Load читает конфиг по указанному пути и проверяет его
func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, configPath)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: cannot read config: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad функция для загрузки конфига, путь берётся из CONFIG_PATH (можно задать в .env)
func MustLoad() *Config {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"MigrationsPath: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"Telegram:\n"+
			"  Mode: %s\n"+
			"  RateLimit: %.1f\n"+
			"Scheduler:\n"+
			"  Mode: %s\n"+
			"  Daily: %02d:%02d\n"+
			"  Weekly: %d %02d:%02d\n"+
			"  Monthly: %d %02d:%02d\n"+
			"  DaysBefore: %d\n"+
			"  MisfireGrace: %s\n",
		c.Env,
		c.MigrationsPath,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.Telegram.Mode,
		c.Telegram.RateLimit,
		c.Scheduler.Mode,
		c.Scheduler.Daily.Hour, c.Scheduler.Daily.Minute,
		c.Scheduler.Weekly.Weekday, c.Scheduler.Weekly.Hour, c.Scheduler.Weekly.Minute,
		c.Scheduler.Monthly.Day, c.Scheduler.Monthly.Hour, c.Scheduler.Monthly.Minute,
		c.Scheduler.DaysBefore,
		c.Scheduler.MisfireGrace,
	)
}
