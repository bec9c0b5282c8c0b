package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DeployModeCPU  = "cpu"
	DeployModeGPU  = "gpu"
	DeployModeFarm = "farm"

	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"

	QueueDriverRedis  = "redis"
	QueueDriverMemory = "memory"

	BlobDriverMinio = "minio"
	BlobDriverS3    = "s3"
	BlobDriverLocal = "local"
)

const (
	DefaultPayloadBounds = "duration=10:600,bpm=40:300,num_steps=1:100,cfg_scale=0:15,batch_size=1:8," +
		"audio_cover_strength=0:1,cfg_interval_start=0:1,cfg_interval_end=0:1," +
		"lm_temperature=0:2,lm_top_p=0:1,lm_max_tokens=64:4096"
	DefaultPayloadEnums = "task_type=text2music|cover|repaint|lego|vocal2bgm|retake;" +
		"audio_format=wav|mp3|flac;infer_method=ode|sde"
)

// Range is an inclusive numeric bound for a payload field.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// DispatchConfig replaces the per-mode shell environment of the deployment
// scripts. It is built once at startup and passed to the dispatcher.
type DispatchConfig struct {
	DeployMode string

	QueueCapacity int
	MaxRetries    int

	HeartbeatTimeout time.Duration
	DeadTimeout      time.Duration
	ReapInterval     time.Duration
	JobTimeout       time.Duration

	DefaultCapability int
	MaxCapability     int

	MaxPayloadBytes int
	Bounds          map[string]Range
	Enums           map[string][]string
	Required        []string

	StoreDriver string
	QueueDriver string
	BlobDriver  string
}

func DefaultDispatchConfig() *DispatchConfig {
	bounds, _ := ParseBounds(DefaultPayloadBounds)
	enums, _ := ParseEnums(DefaultPayloadEnums)
	return &DispatchConfig{
		DeployMode:        DeployModeGPU,
		QueueCapacity:     1000,
		MaxRetries:        1,
		HeartbeatTimeout:  30 * time.Second,
		DeadTimeout:       60 * time.Second,
		ReapInterval:      5 * time.Second,
		DefaultCapability: 1,
		MaxCapability:     8,
		MaxPayloadBytes:   64 << 10,
		Bounds:            bounds,
		Enums:             enums,
		StoreDriver:       StoreDriverPostgres,
		QueueDriver:       QueueDriverRedis,
		BlobDriver:        BlobDriverMinio,
	}
}

func LoadDispatchConfig() (*DispatchConfig, error) {
	cfg := DefaultDispatchConfig()

	cfg.DeployMode = strings.ToLower(getEnv("DEPLOY_MODE", DeployModeGPU))
	switch cfg.DeployMode {
	case DeployModeCPU:
		cfg.StoreDriver = StoreDriverSQLite
		cfg.QueueDriver = QueueDriverMemory
		cfg.BlobDriver = BlobDriverLocal
	case DeployModeGPU, DeployModeFarm:
	default:
		return nil, fmt.Errorf("unknown DEPLOY_MODE %q", cfg.DeployMode)
	}

	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.QueueDriver = getEnv("QUEUE_DRIVER", cfg.QueueDriver)
	cfg.BlobDriver = getEnv("BLOB_DRIVER", cfg.BlobDriver)

	cfg.QueueCapacity = getEnvInt("QUEUE_CAPACITY", cfg.QueueCapacity)
	cfg.MaxRetries = getEnvInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.HeartbeatTimeout = getEnvDuration("HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.DeadTimeout = getEnvDuration("DEAD_TIMEOUT", cfg.DeadTimeout)
	cfg.ReapInterval = getEnvDuration("REAP_INTERVAL", cfg.ReapInterval)
	cfg.JobTimeout = getEnvDuration("JOB_TIMEOUT", cfg.JobTimeout)
	cfg.DefaultCapability = getEnvInt("DEFAULT_CAPABILITY", cfg.DefaultCapability)
	cfg.MaxCapability = getEnvInt("MAX_CAPABILITY", cfg.MaxCapability)
	cfg.MaxPayloadBytes = getEnvInt("MAX_PAYLOAD_BYTES", cfg.MaxPayloadBytes)

	if raw, ok := os.LookupEnv("PAYLOAD_BOUNDS"); ok {
		bounds, err := ParseBounds(raw)
		if err != nil {
			return nil, err
		}
		cfg.Bounds = bounds
	}
	if raw, ok := os.LookupEnv("PAYLOAD_ENUMS"); ok {
		enums, err := ParseEnums(raw)
		if err != nil {
			return nil, err
		}
		cfg.Enums = enums
	}
	if raw := os.Getenv("PAYLOAD_REQUIRED"); raw != "" {
		for _, field := range strings.Split(raw, ",") {
			if field = strings.TrimSpace(field); field != "" {
				cfg.Required = append(cfg.Required, field)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *DispatchConfig) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.HeartbeatTimeout <= 0 || c.DeadTimeout <= 0 {
		return fmt.Errorf("heartbeat and dead timeouts must be positive")
	}
	if c.DeadTimeout < c.HeartbeatTimeout {
		return fmt.Errorf("DEAD_TIMEOUT (%s) must not be shorter than HEARTBEAT_TIMEOUT (%s)", c.DeadTimeout, c.HeartbeatTimeout)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("REAP_INTERVAL must be positive")
	}
	if c.DefaultCapability <= 0 || c.MaxCapability < c.DefaultCapability {
		return fmt.Errorf("capability limits are inconsistent: default=%d max=%d", c.DefaultCapability, c.MaxCapability)
	}
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.QueueDriver {
	case QueueDriverRedis, QueueDriverMemory:
	default:
		return fmt.Errorf("unknown QUEUE_DRIVER %q", c.QueueDriver)
	}
	switch c.BlobDriver {
	case BlobDriverMinio, BlobDriverS3, BlobDriverLocal:
	default:
		return fmt.Errorf("unknown BLOB_DRIVER %q", c.BlobDriver)
	}
	return nil
}

// ParseBounds reads "field=min:max,field=min:max".
func ParseBounds(raw string) (map[string]Range, error) {
	bounds := make(map[string]Range)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, spec, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid bound %q: expected field=min:max", item)
		}
		lo, hi, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid bound %q: expected field=min:max", item)
		}
		minV, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid minimum in bound %q: %w", item, err)
		}
		maxV, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid maximum in bound %q: %w", item, err)
		}
		if minV > maxV {
			return nil, fmt.Errorf("invalid bound %q: min greater than max", item)
		}
		bounds[strings.TrimSpace(name)] = Range{Min: minV, Max: maxV}
	}
	return bounds, nil
}

// ParseEnums reads "field=a|b|c;field=x|y".
func ParseEnums(raw string) (map[string][]string, error) {
	enums := make(map[string][]string)
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, values, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(values) == "" {
			return nil, fmt.Errorf("invalid enum %q: expected field=a|b", item)
		}
		var allowed []string
		for _, v := range strings.Split(values, "|") {
			if v = strings.TrimSpace(v); v != "" {
				allowed = append(allowed, v)
			}
		}
		sort.Strings(allowed)
		enums[strings.TrimSpace(name)] = allowed
	}
	return enums, nil
}
