package config

import "time"

// RegistryConfig holds runtime configuration for the registry API service.
type RegistryConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string

	NATSUrl       string
	LogStream     string
	LogSubject    string
	LogConsumer   string
	WorkerToken   string
	LogBuffer     int
	TopicGrace    time.Duration
	PersistClosed bool
	AppendRetries int

	DoneSentinel string
	ErrorPrefix  string
	BuildTimeout time.Duration
	WatchdogTick time.Duration

	DispatchBackend string
	BuilderURL      string
	ECSCluster      string
	ECSTaskDef      string
	ECSContainer    string
	ECSSubnets      string
	ECSSecGroups    string
	AWSRegion       string

	SubdomainRetries int

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadRegistryConfig constructs a RegistryConfig from environment variables.
func LoadRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":9000"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://dropit:dropit@db:5432/dropit?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),

		NATSUrl:       GetString("NATS_URL", "nats://nats:4222"),
		LogStream:     GetString("LOG_STREAM", "BUILD_LOGS"),
		LogSubject:    GetString("LOG_SUBJECT", "logs.build.*"),
		LogConsumer:   GetString("LOG_CONSUMER", "registry-log-writer"),
		WorkerToken:   GetString("WORKER_AUTH_TOKEN", ""),
		LogBuffer:     GetInt("WS_LOG_BUFFER", 100),
		TopicGrace:    GetDuration("TOPIC_GRACE", 30*time.Second),
		PersistClosed: GetBool("LOG_PERSIST_FAIL_CLOSED", false),
		AppendRetries: GetInt("LOG_APPEND_RETRIES", 3),

		DoneSentinel: GetString("BUILD_DONE_SENTINEL", "Build complete"),
		ErrorPrefix:  GetString("BUILD_ERROR_PREFIX", "error:"),
		BuildTimeout: GetDuration("BUILD_TIMEOUT", 15*time.Minute),
		WatchdogTick: GetDuration("BUILD_WATCHDOG_TICK", 30*time.Second),

		DispatchBackend: GetString("DISPATCH_BACKEND", "ecs"),
		BuilderURL:      GetString("BUILDER_URL", "http://builder:5000"),
		ECSCluster:      GetString("ECS_CLUSTER", ""),
		ECSTaskDef:      GetString("ECS_TASK_DEFINITION", ""),
		ECSContainer:    GetString("ECS_CONTAINER_NAME", "build-server-image"),
		ECSSubnets:      GetString("ECS_SUBNETS", ""),
		ECSSecGroups:    GetString("ECS_SECURITY_GROUPS", ""),
		AWSRegion:       GetString("AWS_REGION", "ap-south-1"),

		SubdomainRetries: GetInt("SUBDOMAIN_RETRIES", 5),

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
