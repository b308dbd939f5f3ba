package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Log      LogConfig
	Store    StoreConfig
	Database DatabaseConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Carrier  CarrierConfig
	S3       S3Config
	Export   ExportConfig
	Tracking TrackingConfig
}

type AppConfig struct {
	Name string
	Env  string
	Port string
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

// StoreConfig selects the order store driver: postgres, mongo or memory.
type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	URL     string
	Migrate bool
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers         string
	Topic           string
	IngestTopic     string
	GroupID         string
	ProducerEnabled bool
	ConsumerEnabled bool
}

type AuthConfig struct {
	WebhookToken  string
	ExportToken   string
	AdminToken    string
	CarrierAPIKey string
}

type CarrierConfig struct {
	BaseURL        string // standard query API root
	TokenURL       string
	CreateURL      string
	LabelURL       string
	ClientID       string
	ClientSecret   string
	CustomerNumber string
	Password       string
	Timeout        time.Duration
	TokenTTL       time.Duration
	DisplayName    string
}

// Enabled reports whether enough is configured to talk to the carrier.
func (c CarrierConfig) Enabled() bool {
	return c.BaseURL != "" || c.LabelURL != "" || c.CreateURL != ""
}

type S3Config struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

type ExportConfig struct {
	Timezone string
	Limit    int
}

type TrackingConfig struct {
	PublicBase string
}

// Legacy variable names accepted next to the ORDERS_ prefixed ones.
var envAliases = map[string][]string{
	"app.port":              {"HTTP_PORT", "PORT"},
	"database.url":          {"DB_STRING", "DATABASE_URL"},
	"mongo.uri":             {"MONGODB_URI"},
	"mongo.database":        {"MONGODB_DB"},
	"kafka.brokers":         {"KAFKA_BROKERS"},
	"kafka.topic":           {"KAFKA_TOPIC"},
	"kafka.group_id":        {"KAFKA_GROUP_ID"},
	"auth.webhook_token":    {"WIX_WEBHOOK_TOKEN"},
	"auth.export_token":     {"EXPORT_TOKEN", "EXPORT_KEY", "ORDERS_EXPORT_KEY"},
	"auth.admin_token":      {"ADMIN_TOKEN"},
	"carrier.base_url":      {"DHL_STANDARD_QUERY_URL"},
	"carrier.token_url":     {"DHL_GET_TOKEN_URL"},
	"carrier.label_url":     {"DHL_LABEL_URL"},
	"carrier.client_id":     {"DHL_API_KEY"},
	"carrier.client_secret": {"DHL_API_SECRET"},
	"tracking.public_base":  {"DHL_PUBLIC_TRACK_BASE"},
}

// LoadConfig reads config.yaml (optional), then ORDERS_* environment
// variables, then the legacy names above.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orders-service")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ORDERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		prefixed := "ORDERS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("store.driver")),
		},
		Database: DatabaseConfig{
			URL:     v.GetString("database.url"),
			Migrate: !v.IsSet("database.migrate") || v.GetBool("database.migrate"),
		},
		Mongo: MongoConfig{
			URI:        v.GetString("mongo.uri"),
			Database:   v.GetString("mongo.database"),
			Collection: v.GetString("mongo.collection"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers:         v.GetString("kafka.brokers"),
			Topic:           v.GetString("kafka.topic"),
			IngestTopic:     v.GetString("kafka.ingest_topic"),
			GroupID:         v.GetString("kafka.group_id"),
			ProducerEnabled: v.GetBool("kafka.producer_enabled"),
			ConsumerEnabled: v.GetBool("kafka.consumer_enabled"),
		},
		Auth: AuthConfig{
			WebhookToken:  v.GetString("auth.webhook_token"),
			ExportToken:   v.GetString("auth.export_token"),
			AdminToken:    v.GetString("auth.admin_token"),
			CarrierAPIKey: v.GetString("auth.carrier_api_key"),
		},
		Carrier: CarrierConfig{
			BaseURL:        strings.TrimRight(v.GetString("carrier.base_url"), "/"),
			TokenURL:       v.GetString("carrier.token_url"),
			CreateURL:      v.GetString("carrier.create_url"),
			LabelURL:       v.GetString("carrier.label_url"),
			ClientID:       v.GetString("carrier.client_id"),
			ClientSecret:   v.GetString("carrier.client_secret"),
			CustomerNumber: v.GetString("carrier.customer_number"),
			Password:       v.GetString("carrier.password"),
			Timeout:        v.GetDuration("carrier.timeout"),
			TokenTTL:       v.GetDuration("carrier.token_ttl"),
			DisplayName:    v.GetString("carrier.display_name"),
		},
		S3: S3Config{
			Enabled:         v.GetBool("s3.enabled"),
			Endpoint:        v.GetString("s3.endpoint"),
			Region:          v.GetString("s3.region"),
			Bucket:          v.GetString("s3.bucket"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			Prefix:          v.GetString("s3.prefix"),
			UsePathStyle:    v.GetBool("s3.use_path_style"),
		},
		Export: ExportConfig{
			Timezone: v.GetString("export.timezone"),
			Limit:    v.GetInt("export.limit"),
		},
		Tracking: TrackingConfig{
			PublicBase: v.GetString("tracking.public_base"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "orders-service"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Store.Driver == "" {
		switch {
		case cfg.Database.URL != "":
			cfg.Store.Driver = "postgres"
		case cfg.Mongo.URI != "":
			cfg.Store.Driver = "mongo"
		default:
			cfg.Store.Driver = "memory"
		}
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "pet-portre"
	}
	if cfg.Mongo.Collection == "" {
		cfg.Mongo.Collection = "orders"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "orders.events"
	}
	if cfg.Kafka.IngestTopic == "" {
		cfg.Kafka.IngestTopic = "orders.ingest"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "orders-service"
	}
	if cfg.Carrier.Timeout == 0 {
		cfg.Carrier.Timeout = 15 * time.Second
	}
	if cfg.Carrier.TokenTTL == 0 {
		cfg.Carrier.TokenTTL = 20 * time.Minute
	}
	if cfg.Carrier.DisplayName == "" {
		cfg.Carrier.DisplayName = "MNG Kargo"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "eu-central-1"
	}
	if cfg.S3.Prefix == "" {
		cfg.S3.Prefix = "labels/"
	}
	if cfg.Export.Timezone == "" {
		cfg.Export.Timezone = "Europe/Istanbul"
	}
	if cfg.Export.Limit == 0 {
		cfg.Export.Limit = 2000
	}
	if cfg.Tracking.PublicBase == "" {
		cfg.Tracking.PublicBase = "https://selfservis.mngkargo.com.tr/GonderiTakip/?TakipNo="
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres store")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required for the mongo store")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be postgres, mongo or memory, got %q", c.Store.Driver)
	}
	if (c.Kafka.ProducerEnabled || c.Kafka.ConsumerEnabled) && c.Kafka.Brokers == "" {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when s3 is enabled")
	}
	if c.Export.Limit < 0 {
		return fmt.Errorf("export.limit cannot be negative")
	}
	if _, err := time.LoadLocation(c.Export.Timezone); err != nil {
		return fmt.Errorf("export.timezone: %w", err)
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
