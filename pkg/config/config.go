package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the AI spotter service.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	Analyzer AnalyzerConfig
	Pipeline PipelineConfig
	Tracing  TracingConfig
	Upload   UploadConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"aispotter"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type KafkaConfig struct {
	Enabled          bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	LifecycleTopic   string        `env:"KAFKA_LIFECYCLE_TOPIC" envDefault:"aispotter.videos"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"local"`
	LocalDir  string `env:"STORAGE_LOCAL_DIR" envDefault:"./data/blobs"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"aispotter-videos"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type AnalyzerConfig struct {
	BaseURL        string        `env:"ANALYZER_BASE_URL" envDefault:"http://localhost:5000"`
	RequestTimeout time.Duration `env:"ANALYZER_REQUEST_TIMEOUT" envDefault:"30s"`
}

type PipelineConfig struct {
	RetryBudget    int           `env:"PIPELINE_RETRY_BUDGET" envDefault:"3"`
	InitialBackoff time.Duration `env:"PIPELINE_INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff     time.Duration `env:"PIPELINE_MAX_BACKOFF" envDefault:"10s"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=aispotter"`
}

type UploadConfig struct {
	MaxSizeBytes      int64    `env:"UPLOAD_MAX_SIZE_BYTES" envDefault:"2147483648"`
	MultipartMemBytes int64    `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"52428800"`
	AllowedMIMETypes  []string `env:"UPLOAD_ALLOWED_MIME_TYPES" envSeparator:"," envDefault:"video/mp4,video/quicktime,video/webm,video/x-matroska"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
