package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseEnv applies environment variables. The COS_* and JWT_* names match
// the ones used by existing deployments of the service.
func parseEnv(config *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		config.EndpointAddrHTTP = ":" + port
	}
	str("GRPC_HEALTH_ADDR", &config.EndpointAddrGRPCHealth)
	str("STORAGE_BACKEND", &config.StorageBackend)
	str("DATABASE_DSN", &config.DatabaseDSN)
	str("JWT_SECRET", &config.SecretKey)

	if v, ok := lookup("JWT_EXPIRES_IN"); ok && v != "" {
		d, err := parseExpiresIn(v)
		if err != nil {
			return fmt.Errorf("JWT_EXPIRES_IN: %w", err)
		}
		config.AccessTokenValidityDuration = d
	}
	if v, ok := lookup("BCRYPT_COST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BCRYPT_COST: %w", err)
		}
		config.BcryptCost = n
	}

	str("COS_ACCESS_KEY_ID", &config.S3RootUser)
	str("COS_SECRET_ACCESS_KEY", &config.S3RootPassword)
	str("COS_BUCKET_NAME", &config.S3Bucket)
	str("COS_REGION", &config.S3Region)
	str("COS_ENDPOINT", &config.S3BaseEndpoint)
	str("COS_LOCATION", &config.S3LocationConstraint)

	if v, ok := lookup("CONDITIONAL_WRITES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CONDITIONAL_WRITES: %w", err)
		}
		config.ConditionalWrites = b
	}
	if v, ok := lookup("RECONCILE_SCHEDULE"); ok {
		config.ReconcileSchedule = v
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		config.CORSAllowedOrigins = splitList(v)
	}
	str("LOG_FORMAT", &config.LogFormat)
	str("LOG_LEVEL", &config.LogLevel)
	return nil
}

// parseExpiresIn accepts Go durations ("1h", "90m"), plain seconds ("3600")
// and the day suffix ("7d").
func parseExpiresIn(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
