package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/cosauth/internal/flagx"
	"github.com/dmitrijs2005/cosauth/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Only the fields that
// are present in the file override the defaults.
type JsonConfig struct {
	EndpointAddrHTTP            string          `json:"endpoint_addr_http"`
	EndpointAddrGRPCHealth      string          `json:"endpoint_addr_grpc_health"`
	StorageBackend              string          `json:"storage_backend"`
	DatabaseDSN                 string          `json:"database_dsn"`
	SecretKey                   string          `json:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	BcryptCost                  int             `json:"bcrypt_cost"`
	S3RootUser                  string          `json:"s3_root_user"`
	S3RootPassword              string          `json:"s3_root_password"`
	S3Bucket                    string          `json:"s3_bucket"`
	S3Region                    string          `json:"s3_region"`
	S3BaseEndpoint              string          `json:"s3_base_endpoint"`
	S3LocationConstraint        string          `json:"s3_location_constraint"`
	ConditionalWrites           *bool           `json:"conditional_writes"`
	IndexRetries                int             `json:"index_retries"`
	ReconcileSchedule           *string         `json:"reconcile_schedule"`
	CORSAllowedOrigins          []string        `json:"cors_allowed_origins"`
	LogFormat                   string          `json:"log_format"`
	LogLevel                    string          `json:"log_level"`
}

// parseJson loads the file named by -c/-config, if any, into config.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPCHealth, c.EndpointAddrGRPCHealth)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.BcryptCost != 0 {
		config.BcryptCost = c.BcryptCost
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3LocationConstraint, c.S3LocationConstraint)
	if c.ConditionalWrites != nil {
		config.ConditionalWrites = *c.ConditionalWrites
	}
	if c.IndexRetries != 0 {
		config.IndexRetries = c.IndexRetries
	}
	if c.ReconcileSchedule != nil {
		config.ReconcileSchedule = *c.ReconcileSchedule
	}
	if c.CORSAllowedOrigins != nil {
		config.CORSAllowedOrigins = c.CORSAllowedOrigins
	}
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
