package infra

import (
	"log"

	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/infra/produce"
)

type Infra struct {
	Redis     *RedisClient
	Postgres  *PostgresClient
	SQLite    *SQLiteClient
	Logger    *LoggerClient
	Telemetry *TelemetryClient
	RabbitMQ  *RabbitMQClient
	Produce   *produce.Produce
	Queue     dispatch.Queue
	Blob      BlobStore
}

var infraInstance *Infra

// InitInfra connects only the backends the deploy mode selects; clients for
// unused backends stay nil.
func InitInfra(cfg *config.Config) *Infra {
	if infraInstance != nil {
		return infraInstance
	}
	env, dcfg := cfg.EnvConfig, cfg.Dispatch

	logger := InitLoggerClient(env)
	if logger == nil {
		panic("Failed to initialize Logger service")
	}

	telemetry := InitTelemetryClient(env)

	inf := &Infra{Logger: logger, Telemetry: telemetry}

	switch dcfg.StoreDriver {
	case config.StoreDriverPostgres:
		inf.Postgres = InitPostgresClient(env)
		if inf.Postgres == nil {
			panic("Failed to initialize Postgres service")
		}
	case config.StoreDriverSQLite:
		inf.SQLite = InitSQLiteClient(env)
		if inf.SQLite == nil {
			panic("Failed to initialize SQLite service")
		}
	}

	if env.Redis.Enabled || dcfg.QueueDriver == config.QueueDriverRedis {
		inf.Redis = InitRedisClient(env)
		if inf.Redis == nil {
			panic("Failed to initialize Redis service")
		}
	}

	switch dcfg.QueueDriver {
	case config.QueueDriverRedis:
		inf.Queue = NewRedisQueue(inf.Redis.Client, env.Redis.QueueKey, dcfg.QueueCapacity)
	default:
		inf.Queue = dispatch.NewMemoryQueue(dcfg.QueueCapacity)
	}

	if env.RabbitMQ.Enabled {
		inf.RabbitMQ = InitRabbitMQClient(env)
		if inf.RabbitMQ == nil {
			panic("Failed to initialize RabbitMQ service")
		}
		inf.Produce = produce.InitProduce(inf.RabbitMQ.Channel)
		if inf.Produce == nil {
			panic("Failed to initialize Produce service")
		}
	}

	switch dcfg.BlobDriver {
	case config.BlobDriverMinio:
		inf.Blob = InitMinioClient(env)
	case config.BlobDriverS3:
		inf.Blob = InitS3Client(env)
	default:
		local, err := NewLocalBlobStore(env.Blob.LocalDir)
		if err != nil {
			panic("Failed to initialize local blob store: " + err.Error())
		}
		inf.Blob = local
	}

	log.Printf("Infra ready: mode=%s store=%s queue=%s blob=%s", dcfg.DeployMode, dcfg.StoreDriver, dcfg.QueueDriver, inf.Blob.Name())

	infraInstance = inf
	return infraInstance
}

func GetClient() *Infra {
	if infraInstance == nil {
		panic("Infra not initialized. Call InitInfra() first.")
	}
	return infraInstance
}

// EventPublisher returns nil when no broker is configured so the dispatcher
// skips publishing.
func (i *Infra) EventPublisher() dispatch.EventPublisher {
	if i.Produce == nil {
		return nil
	}
	return i.Produce.JobEventService
}
