package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"ENV"`
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AdminKey    string `mapstructure:"ADMIN_KEY"`
	CORSAllowed string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	VertexProjectID   string        `mapstructure:"VERTEX_AI_PROJECT_ID"`
	VertexLocation    string        `mapstructure:"VERTEX_AI_LOCATION"`
	VertexAccessToken string        `mapstructure:"VERTEX_AI_ACCESS_TOKEN"`
	VertexModel       string        `mapstructure:"VERTEX_AI_MODEL"`
	VertexEndpointID  string        `mapstructure:"VERTEX_AI_ENDPOINT_ID"`
	VertexTimeout     time.Duration `mapstructure:"VERTEX_AI_TIMEOUT"`

	DatasetURL string        `mapstructure:"DATASET_URL"`
	DatasetTTL time.Duration `mapstructure:"DATASET_CACHE_TTL"`

	BatchRatePerSecond float64       `mapstructure:"BATCH_RATE_PER_SECOND"`
	ItemTimeout        time.Duration `mapstructure:"ITEM_TIMEOUT"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("VERTEX_AI_LOCATION", "europe-west8")
	v.SetDefault("VERTEX_AI_MODEL", "gemini-2.0-flash-lite-001")
	v.SetDefault("VERTEX_AI_TIMEOUT", "30s")
	v.SetDefault("DATASET_CACHE_TTL", "1h")
	v.SetDefault("BATCH_RATE_PER_SECOND", 10.0)
	v.SetDefault("ITEM_TIMEOUT", "60s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
