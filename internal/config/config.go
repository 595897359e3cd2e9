package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP      HTTP      `envPrefix:"HTTP_"`
		Log       Log       `envPrefix:"LOG_"`
		Render    Render    `envPrefix:"RENDER_"`
		Cache     Cache     `envPrefix:"CACHE_"`
		Redis     Redis     `envPrefix:"REDIS_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
		Warmup    Warmup    `envPrefix:"WARMUP_"`
	}

	HTTP struct {
		Addr         string        `env:"ADDR" envDefault:"0.0.0.0:8080" validate:"required"`
		StaticDir    string        `env:"STATIC_DIR" envDefault:"."`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Log struct {
		Level string `env:"LEVEL" envDefault:"info"`
	}

	// Render holds the constants that determine tile content. Two renders
	// with equal Render values produce identical bytes.
	Render struct {
		TileSize   int     `env:"TILE_SIZE" envDefault:"256" validate:"gt=0"`
		IterMax    int     `env:"ITER_MAX" envDefault:"512" validate:"gt=0"`
		PlaneWidth float64 `env:"PLANE_WIDTH" envDefault:"4.0" validate:"gt=0"`
		Workers    int     `env:"WORKERS" envDefault:"0" validate:"gte=0"`
		Encoder    string  `env:"ENCODER" envDefault:"png" validate:"oneof=png vips"`
	}

	Cache struct {
		Type         string `env:"TYPE" envDefault:"file" validate:"oneof=file memory sqlite redis disabled"`
		Dir          string `env:"DIR" envDefault:"cache"`
		MemoryTiles  int    `env:"MEMORY_TILES" envDefault:"2000" validate:"gt=0"`
		SQLitePath   string `env:"SQLITE_PATH" envDefault:"cache.db"`
		SingleFlight bool   `env:"SINGLE_FLIGHT" envDefault:"false"`
	}

	Redis struct {
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD" envDefault:""`
		DB       int           `env:"DB" envDefault:"0"`
		TTL      time.Duration `env:"TTL" envDefault:"0s"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"mandeltiles"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	}

	Warmup struct {
		Levels  int `env:"LEVELS" envDefault:"0" validate:"gte=0,lte=20"`
		Workers int `env:"WORKERS" envDefault:"1" validate:"gte=0"`
	}
)

// Default returns the configuration with every default applied and no
// environment overrides.
func Default() Config {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{
		Environment: map[string]string{},
	})
	if err != nil {
		// defaults are static, this only fails on a broken tag
		panic(err)
	}
	return cfg
}

func Load() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
