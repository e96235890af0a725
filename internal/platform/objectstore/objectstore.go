// Package objectstore configures the object store carrying remote run
// payloads, results and artifacts.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/strata-labs/strata-go/internal/platform/env"
)

type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	Region     string
	BucketRuns string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("STRATA_OBJECTSTORE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	endpoint, err := env.Require("STRATA_OBJECTSTORE_ENDPOINT")
	if err != nil {
		return Config{}, err
	}
	accessKey, err := env.Require("STRATA_OBJECTSTORE_ACCESS_KEY")
	if err != nil {
		return Config{}, err
	}
	secretKey, err := env.Require("STRATA_OBJECTSTORE_SECRET_KEY")
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:   endpoint,
		AccessKey:  accessKey,
		SecretKey:  secretKey,
		UseSSL:     useSSL,
		Region:     env.String("STRATA_OBJECTSTORE_REGION", ""),
		BucketRuns: env.String("STRATA_OBJECTSTORE_BUCKET_RUNS", "strata-runs"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("object store endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("object store credentials are required")
	}
	if c.BucketRuns == "" {
		return errors.New("runs bucket is required")
	}
	return nil
}

func NewClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// EnsureBucket creates the runs bucket when it does not exist yet.
func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketRuns)
	if err != nil {
		return fmt.Errorf("runs bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, cfg.BucketRuns, minio.MakeBucketOptions{Region: cfg.Region})
}

// CheckBucket verifies the runs bucket is reachable, for readiness probes.
func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketRuns)
	if err != nil {
		return fmt.Errorf("runs bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("runs bucket missing: %s", cfg.BucketRuns)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
