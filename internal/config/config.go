// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/stream-optimizer/internal/checkpoint"
)

type KafkaCfg struct {
	Brokers              []string
	MetricsTopic         string
	GroupID              string
	RecommendationsTopic string
}

type NATSCfg struct {
	URL                    string
	MetricsSubject         string
	RecommendationsSubject string
}

type MinIOCfg struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type CheckpointCfg struct {
	Backend   string
	ModelsDir string
	RedisAddr string
	Prefix    string
	MinIO     MinIOCfg

	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration
}

// Store maps the settings onto the checkpoint package.
func (c CheckpointCfg) Store() checkpoint.BackendConfig {
	return checkpoint.BackendConfig{
		Backend:   c.Backend,
		Dir:       c.ModelsDir,
		RedisAddr: c.RedisAddr,
		Prefix:    c.Prefix,
		MinIO: checkpoint.MinIOConfig{
			Endpoint:        c.MinIO.Endpoint,
			AccessKeyID:     c.MinIO.AccessKey,
			SecretAccessKey: c.MinIO.SecretKey,
			Bucket:          c.MinIO.Bucket,
			Region:          c.MinIO.Region,
			Prefix:          "checkpoints/",
			UseSSL:          c.MinIO.UseSSL,
			MaxRetries:      3,
		},
		RedisDialTimeout:  c.RedisDialTimeout,
		RedisReadTimeout:  c.RedisReadTimeout,
		RedisWriteTimeout: c.RedisWriteTimeout,
	}
}

type Config struct {
	Addr       string
	ServerMode bool
	LogLevel   string
	LogConsole bool
	LogSampleN int
	Stream     string

	Transport  string
	MetricsURL string
	Kafka      KafkaCfg
	NATS       NATSCfg

	TrainingEnabled bool
	Seed            uint64
	WindowSize      int
	MinSamples      int
	TrainEvery      int
	TargetSyncEvery int
	ReplayCapacity  int
	BatchSize       int
	Gamma           float64
	EpsilonMin      float64
	EpsilonDecay    float64
	LearningRate    float64
	MinBitrateKbps  int
	MaxBitrateKbps  int

	RecvTimeout  time.Duration
	ErrorBackoff time.Duration
	HistorySize  int
	DedupeSize   int

	Checkpoint CheckpointCfg

	MetricsEnabled bool
	MetricsPath    string
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8091"),
		ServerMode: getbool("SERVER_MODE", false),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		Stream:     getenv("STREAM_ID", "default"),

		Transport:  strings.ToLower(getenv("TRANSPORT", "ws")),
		MetricsURL: getenv("METRICS_URL", "ws://localhost:8080/metrics"),
		Kafka: KafkaCfg{
			Brokers:              getlist("KAFKA_BROKERS", "localhost:9092"),
			MetricsTopic:         getenv("KAFKA_METRICS_TOPIC", "stream-metrics"),
			GroupID:              getenv("KAFKA_GROUP_ID", "stream-optimizer"),
			RecommendationsTopic: getenv("KAFKA_RECOMMENDATIONS_TOPIC", ""),
		},
		NATS: NATSCfg{
			URL:                    getenv("NATS_URL", "nats://localhost:4222"),
			MetricsSubject:         getenv("NATS_METRICS_SUBJECT", "stream.metrics"),
			RecommendationsSubject: getenv("NATS_RECOMMENDATIONS_SUBJECT", ""),
		},

		TrainingEnabled: getbool("TRAINING_ENABLED", false),
		Seed:            getuint64("MODEL_SEED", 42),
		WindowSize:      getint("WINDOW_SIZE", 30),
		MinSamples:      getint("MIN_SAMPLES", 5),
		TrainEvery:      getint("TRAIN_EVERY", 10),
		TargetSyncEvery: getint("TARGET_SYNC_EVERY", 10),
		ReplayCapacity:  getint("REPLAY_CAPACITY", 2000),
		BatchSize:       getint("BATCH_SIZE", 32),
		Gamma:           getfloat("GAMMA", 0.95),
		EpsilonMin:      getfloat("EPSILON_MIN", 0.01),
		EpsilonDecay:    getfloat("EPSILON_DECAY", 0.995),
		LearningRate:    getfloat("LEARNING_RATE", 1e-3),
		MinBitrateKbps:  getint("MIN_BITRATE_KBPS", 2000),
		MaxBitrateKbps:  getint("MAX_BITRATE_KBPS", 20000),

		RecvTimeout:  getduration("RECV_TIMEOUT", 5*time.Second),
		ErrorBackoff: getduration("ERROR_BACKOFF", time.Second),
		HistorySize:  getint("HISTORY_SIZE", 1000),
		DedupeSize:   getint("DEDUPE_SIZE", 4096),

		Checkpoint: CheckpointCfg{
			Backend:   strings.ToLower(getenv("CHECKPOINT_BACKEND", "file")),
			ModelsDir: getenv("MODELS_DIR", "models"),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			Prefix:    getenv("CHECKPOINT_PREFIX", "stream-optimizer:checkpoint:"),
			MinIO: MinIOCfg{
				Endpoint:  getenv("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: getenv("MINIO_ACCESS_KEY", ""),
				SecretKey: getenv("MINIO_SECRET_KEY", ""),
				Bucket:    getenv("MINIO_BUCKET", "stream-optimizer"),
				Region:    getenv("MINIO_REGION", ""),
				UseSSL:    getbool("MINIO_USE_SSL", false),
			},
			RedisDialTimeout:  getduration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			RedisReadTimeout:  getduration("REDIS_READ_TIMEOUT", 2*time.Second),
			RedisWriteTimeout: getduration("REDIS_WRITE_TIMEOUT", 2*time.Second),
		},

		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
	}
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Transport {
	case "ws":
		if c.MetricsURL == "" {
			errs = append(errs, errors.New("METRICS_URL is required for ws transport"))
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.MetricsTopic == "" {
			errs = append(errs, errors.New("KAFKA_BROKERS and KAFKA_METRICS_TOPIC are required for kafka transport"))
		}
	case "nats":
		if c.NATS.MetricsSubject == "" {
			errs = append(errs, errors.New("NATS_METRICS_SUBJECT is required for nats transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSPORT %q", c.Transport))
	}
	switch c.Checkpoint.Backend {
	case "file", "redis", "minio":
	default:
		errs = append(errs, fmt.Errorf("unknown CHECKPOINT_BACKEND %q", c.Checkpoint.Backend))
	}
	if c.MinBitrateKbps <= 0 || c.MaxBitrateKbps <= c.MinBitrateKbps {
		errs = append(errs, fmt.Errorf("bitrate bounds [%d,%d] are invalid", c.MinBitrateKbps, c.MaxBitrateKbps))
	}
	if c.WindowSize <= 0 || c.MinSamples <= 0 || c.MinSamples > c.WindowSize {
		errs = append(errs, fmt.Errorf("MIN_SAMPLES=%d must be in [1,WINDOW_SIZE=%d]", c.MinSamples, c.WindowSize))
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getuint64(k string, def uint64) uint64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getlist splits a comma separated value, dropping blanks.
func getlist(k, def string) []string {
	var out []string
	for p := range strings.SplitSeq(getenv(k, def), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
