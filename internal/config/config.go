package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the application
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Publisher PublisherConfig `yaml:"publisher"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Server    ServerConfig    `yaml:"server"`
}

// StorageConfig holds document store configuration
type StorageConfig struct {
	Type             string `yaml:"type" env:"STORAGE_TYPE" env-default:"mongodb"` // "mongodb", "dynamodb", "postgresql", "memory"
	Region           string `yaml:"region" env:"AWS_REGION" env-default:"us-west-2"`
	Endpoint         string `yaml:"endpoint" env:"DYNAMODB_ENDPOINT"` // Custom endpoint for local testing
	MongoDBURI       string `yaml:"mongodb_uri" env:"MONGODB_URI" env-default:"mongodb://localhost:27017"`
	Database         string `yaml:"database" env:"STORAGE_DATABASE" env-default:"launcher"`
	PostgresURI      string `yaml:"postgres_uri" env:"POSTGRES_URI"`
	RecordCollection string `yaml:"record_collection" env:"RECORD_COLLECTION" env-default:"redditVideos"`
	StatsCollection  string `yaml:"stats_collection" env:"STATS_COLLECTION" env-default:"stats"`
	StatsDocumentID  string `yaml:"stats_document_id" env:"STATS_DOCUMENT_ID" env-default:"fetchRedditFeed"`
}

// PublisherConfig holds object storage configuration
type PublisherConfig struct {
	ProjectID     string        `yaml:"project_id" env:"PROJECT_ID"`
	Bucket        string        `yaml:"bucket" env:"STORAGE_BUCKET" env-required:"true"`
	Region        string        `yaml:"region" env:"STORAGE_REGION" env-default:"auto"`
	Endpoint      string        `yaml:"endpoint" env:"STORAGE_ENDPOINT" env-default:"https://storage.googleapis.com"`
	PublicBaseURL string        `yaml:"public_base_url" env:"STORAGE_PUBLIC_BASE_URL" env-default:"https://storage.googleapis.com"`
	AccessKeyID   string        `yaml:"access_key_id" env:"STORAGE_ACCESS_KEY_ID"`
	SecretKey     string        `yaml:"secret_key" env:"STORAGE_SECRET_KEY"`
	KeyPrefix     string        `yaml:"key_prefix" env:"THUMBNAIL_KEY_PREFIX" env-default:"thumbnails"`
	CacheControl  string        `yaml:"cache_control" env:"THUMBNAIL_CACHE_CONTROL" env-default:"public, max-age=31536000"`
	Timeout       time.Duration `yaml:"timeout" env:"PUBLISH_TIMEOUT" env-default:"1m"`
	RetryCount    int           `yaml:"retry_count" env:"PUBLISH_RETRY_COUNT" env-default:"3"`
}

// IngestionConfig holds ingestion-related configuration
type IngestionConfig struct {
	APIEndpoint          string        `yaml:"api_endpoint" env:"API_ENDPOINT" env-default:"https://www.reddit.com"`
	UserAgent            string        `yaml:"user_agent" env:"USER_AGENT" env-default:"Mozilla/5.0 (compatible; LauncherBot/1.0)"`
	Partitions           []string      `yaml:"partitions" env:"PARTITIONS" env-separator:"," env-default:"CrazyFuckingVideos,nextfuckinglevel,PublicFreakout,unexpected,interestingasfuck,videos,AbruptChaos,IdiotsInCars,Whatcouldgowrong,BeAmazed,toptalent,WinStupidPrizes,holdmybeer"`
	BatchSize            int           `yaml:"batch_size" env:"BATCH_SIZE" env-default:"50"`
	RecencyWindow        time.Duration `yaml:"recency_window" env:"RECENCY_WINDOW" env-default:"24h"`
	Interval             time.Duration `yaml:"interval" env:"INGESTION_INTERVAL" env-default:"6h"`
	BatchTimeout         time.Duration `yaml:"batch_timeout" env:"BATCH_TIMEOUT" env-default:"9m"`
	Timeout              time.Duration `yaml:"timeout" env:"API_TIMEOUT" env-default:"30s"`
	RetryCount           int           `yaml:"retry_count" env:"RETRY_COUNT" env-default:"3"`
	ItemDelay            time.Duration `yaml:"item_delay" env:"ITEM_DELAY" env-default:"1s"`
	PartitionDelay       time.Duration `yaml:"partition_delay" env:"PARTITION_DELAY" env-default:"2s"`
	PartitionConcurrency int           `yaml:"partition_concurrency" env:"PARTITION_CONCURRENCY" env-default:"1"`
	MemoryLimitBytes     int64         `yaml:"memory_limit_bytes" env:"MEMORY_LIMIT_BYTES" env-default:"209715200"`
}

// ExtractorConfig holds frame extraction configuration
type ExtractorConfig struct {
	ScratchDir          string        `yaml:"scratch_dir" env:"SCRATCH_DIR"`
	FfmpegBinPath       string        `yaml:"ffmpeg_bin" env:"FFMPEG_BIN" env-default:"ffmpeg"`
	FfprobeBinPath      string        `yaml:"ffprobe_bin" env:"FFPROBE_BIN" env-default:"ffprobe"`
	Timeout             time.Duration `yaml:"timeout" env:"EXTRACT_TIMEOUT" env-default:"2m"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" env:"DOWNLOAD_TIMEOUT" env-default:"1m"`
	BlankFrameThreshold int           `yaml:"blank_frame_threshold" env:"BLANK_FRAME_THRESHOLD" env-default:"0"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
}

// MaxPartitionConcurrency caps how many partitions may be processed at once
const MaxPartitionConcurrency = 4

// Load reads configuration from the YAML file at path (if provided) and then
// applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if len(cfg.Ingestion.Partitions) == 0 {
		return fmt.Errorf("invalid configuration: at least one partition is required")
	}

	if cfg.Ingestion.BatchSize <= 0 {
		return fmt.Errorf("invalid configuration: batch size must be positive, got %d", cfg.Ingestion.BatchSize)
	}

	if cfg.Ingestion.Interval <= 0 {
		return fmt.Errorf("invalid configuration: ingestion interval must be positive, got %s", cfg.Ingestion.Interval)
	}

	if cfg.Ingestion.PartitionConcurrency < 1 {
		cfg.Ingestion.PartitionConcurrency = 1
	} else if cfg.Ingestion.PartitionConcurrency > MaxPartitionConcurrency {
		cfg.Ingestion.PartitionConcurrency = MaxPartitionConcurrency
	}

	if cfg.Ingestion.RetryCount < 1 {
		cfg.Ingestion.RetryCount = 1
	}

	return nil
}
