package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/cosauth/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   REST bind address (e.g., ":8080")
//	-G string   gRPC health bind address
//	-k string   storage backend: s3, postgres, memory
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-u string   S3 access key
//	-p string   S3 secret key
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-w          guard index writes with ETag preconditions
//	-r string   reconcile cron schedule
//
// Duration flags are accepted as integers in minutes.
func parseFlags(config *Config, args []string) error {
	args = flagx.Filter(args,
		[]string{"-a", "-G", "-k", "-d", "-s", "-t", "-u", "-p", "-b", "-g", "-e", "-r"},
		[]string{"-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.EndpointAddrGRPCHealth, "G", config.EndpointAddrGRPCHealth, "address of the gRPC health endpoint")
	fs.StringVar(&config.StorageBackend, "k", config.StorageBackend, "storage backend (s3, postgres, memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 access key")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.BoolVar(&config.ConditionalWrites, "w", config.ConditionalWrites, "conditional index writes")
	fs.StringVar(&config.ReconcileSchedule, "r", config.ReconcileSchedule, "index reconcile schedule (cron)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// Only an explicit -t overrides; the minute default would truncate "90s".
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
		}
	})
	return nil
}
