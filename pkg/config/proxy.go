package config

import "time"

// ProxyConfig holds runtime configuration for the subdomain reverse proxy.
type ProxyConfig struct {
	Addr         string
	MetricsAddr  string
	DatabaseURL  string
	ArtifactRoot string
	Bucket       string
	AWSRegion    string
	S3Endpoint   string
	S3PathStyle  bool
	CacheTTL     time.Duration
}

// LoadProxyConfig constructs a ProxyConfig from environment variables.
func LoadProxyConfig() ProxyConfig {
	return ProxyConfig{
		Addr:         GetString("PROXY_ADDR", ":8000"),
		MetricsAddr:  GetString("PROXY_METRICS_ADDR", ":8060"),
		DatabaseURL:  GetString("DATABASE_URL", "postgres://dropit:dropit@db:5432/dropit?sslmode=disable"),
		ArtifactRoot: GetString("ARTIFACT_ROOT", "__outputs"),
		Bucket:       GetString("ARTIFACT_BUCKET", "dropit-outputs"),
		AWSRegion:    GetString("AWS_REGION", "ap-south-1"),
		S3Endpoint:   GetString("S3_ENDPOINT", ""),
		S3PathStyle:  GetBool("S3_PATH_STYLE", false),
		CacheTTL:     GetDuration("PROXY_CACHE_TTL", 15*time.Second),
	}
}
