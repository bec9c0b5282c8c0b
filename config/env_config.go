package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	Postgres struct {
		HOST     string
		Database string
		Username string
		Password string
		Port     string
	}
	SQLite struct {
		Path string
	}
	JWT struct {
		SecretKey string
		Algorithm string
		Expire    int
	}
	CORS struct {
		AllowDomains string
		GlobalDomain string
	}
	Redis struct {
		Enabled   bool
		Password  string
		Database  int
		RedisHost string
		RedisPort string
		QueueKey  string
		EventTTL  time.Duration
	}
	RabbitMQ struct {
		Enabled  bool
		Host     string
		Port     string
		Username string
		Password string
	}
	Minio struct {
		Endpoint     string
		RootUser     string
		RootPassword string
		UseSSL       bool
	}
	S3 struct {
		Endpoint  string
		Region    string
		AccessKey string
		SecretKey string
	}
	Blob struct {
		Bucket       string
		LocalDir     string
		PresignTTL   time.Duration
		MaxUploadLen int64
	}
	Worker struct {
		SharedSecret string
	}
	Agent struct {
		ServerURL         string
		Capability        int
		HeartbeatInterval time.Duration
		PollInterval      time.Duration
		WorkDir           string
		Labels            string
		UploadMode        string
		ReportMode        string
	}
	Grafana struct {
		OTLPEndpoint string
		ServiceName  string
	}
	Environment struct {
		Mode  string
		Group string
	}
	HTTP struct {
		Port string
	}
	DomainName string
}

func LoadEnvConfig() *EnvConfig {
	var config EnvConfig

	// Postgres
	config.Postgres.HOST = os.Getenv("PGPOOL_HOST")
	config.Postgres.Database = os.Getenv("PGPOOL_DB")
	config.Postgres.Username = os.Getenv("PGPOOL_USER")
	config.Postgres.Password = os.Getenv("PGPOOL_PASSWORD")
	config.Postgres.Port = os.Getenv("PGPOOL_PORT")
	if config.Postgres.Port == "" {
		config.Postgres.Port = "5432"
	}

	config.SQLite.Path = getEnv("SQLITE_PATH", "dispatch.db")

	// JWT
	config.JWT.SecretKey = os.Getenv("JWT_SECRET_KEY")
	config.JWT.Algorithm = getEnv("JWT_ALGORITHM", "HS256")
	config.JWT.Expire = getEnvInt("JWT_EXPIRE", 3600*24*7)

	config.CORS.AllowDomains = os.Getenv("ALLOWED_DOMAINS")
	config.CORS.GlobalDomain = os.Getenv("GLOBAL_DOMAIN")

	cpuMode := strings.EqualFold(os.Getenv("DEPLOY_MODE"), DeployModeCPU)

	config.Redis.Enabled = getEnvBool("REDIS_ENABLED", !cpuMode)
	config.Redis.Password = os.Getenv("REDIS_PASSWORD")
	config.Redis.Database, _ = strconv.Atoi(os.Getenv("REDIS_DB"))
	config.Redis.RedisHost = getEnv("REDIS_HOST", "localhost")
	config.Redis.RedisPort = getEnv("REDIS_PORT", "6379")
	config.Redis.QueueKey = getEnv("REDIS_QUEUE_KEY", "dispatch:queue")
	config.Redis.EventTTL = getEnvDuration("REDIS_EVENT_TTL", 24*time.Hour)

	// RabbitMQ
	config.RabbitMQ.Enabled = getEnvBool("RABBITMQ_ENABLED", !cpuMode)
	config.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	config.RabbitMQ.Port = getEnv("RABBITMQ_PORT", "5672")
	config.RabbitMQ.Username = getEnv("RABBITMQ_USER", "guest")
	config.RabbitMQ.Password = getEnv("RABBITMQ_PASSWORD", "guest")

	config.Minio.Endpoint = os.Getenv("MINIO_ENDPOINT")
	config.Minio.RootUser = os.Getenv("MINIO_ROOT_USER")
	config.Minio.RootPassword = os.Getenv("MINIO_ROOT_PASSWORD")
	config.Minio.UseSSL = getEnvBool("MINIO_USE_SSL", false)

	config.S3.Endpoint = os.Getenv("S3_ENDPOINT")
	config.S3.Region = getEnv("S3_REGION", "us-east-1")
	config.S3.AccessKey = os.Getenv("S3_ACCESS_KEY")
	config.S3.SecretKey = os.Getenv("S3_SECRET_KEY")

	config.Blob.Bucket = getEnv("BLOB_BUCKET", "music-artifacts")
	config.Blob.LocalDir = getEnv("BLOB_LOCAL_DIR", "outputs")
	config.Blob.PresignTTL = getEnvDuration("BLOB_PRESIGN_TTL", 15*time.Minute)
	config.Blob.MaxUploadLen = int64(getEnvInt("BLOB_MAX_UPLOAD_BYTES", 512<<20))

	config.Worker.SharedSecret = os.Getenv("WORKER_SHARED_SECRET")

	config.Agent.ServerURL = getEnv("DISPATCH_SERVER_URL", "http://localhost:8080")
	config.Agent.Capability = getEnvInt("WORKER_CAPABILITY", 1)
	config.Agent.HeartbeatInterval = getEnvDuration("WORKER_HEARTBEAT_INTERVAL", 5*time.Second)
	config.Agent.PollInterval = getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second)
	config.Agent.WorkDir = getEnv("WORKER_WORK_DIR", os.TempDir())
	config.Agent.Labels = os.Getenv("WORKER_LABELS")
	config.Agent.UploadMode = getEnv("WORKER_UPLOAD_MODE", "http")
	config.Agent.ReportMode = getEnv("WORKER_REPORT_MODE", "http")

	// Grafana/OpenTelemetry
	grafanaEndpoint := os.Getenv("GRAFANA_OTLP_ENDPOINT")
	// Remove protocol for OpenTelemetry client to avoid duplicate protocols
	grafanaEndpoint = strings.TrimPrefix(grafanaEndpoint, "https://")
	grafanaEndpoint = strings.TrimPrefix(grafanaEndpoint, "http://")
	config.Grafana.OTLPEndpoint = grafanaEndpoint
	config.Grafana.ServiceName = getEnv("SERVICE_NAME", "gau-music-dispatch")

	config.Environment.Mode = getEnv("DEPLOY_ENV", "development")
	config.Environment.Group = getEnv("GROUP_NAME", "local")

	config.HTTP.Port = getEnv("HTTP_PORT", "8080")

	config.DomainName = getEnv("DOMAIN_NAME", "localhost:8080")

	return &config
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvDuration accepts Go durations ("30s") or plain seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
