package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/ledger"
	"github.com/marmos91/gridfsmigrate/pkg/metrics"
	"github.com/marmos91/gridfsmigrate/pkg/source"
	"github.com/marmos91/gridfsmigrate/pkg/source/mongo"
	"github.com/marmos91/gridfsmigrate/pkg/target"
	targetFs "github.com/marmos91/gridfsmigrate/pkg/target/fs"
	targetS3 "github.com/marmos91/gridfsmigrate/pkg/target/s3"
)

// decode decodes a type-specific options map into out. Durations may be
// given as strings ("30s") and numbers as strings, as they are when they come
// from flags or environment variables.
func decode(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// CreateSource creates the source database based on configuration.
//
// Supported types:
//   - "mongo": Uses pkg/source/mongo (Rocket.Chat MongoDB with GridFS)
//
// Parameters:
//   - ctx: Context for connection setup
//   - cfg: Source configuration
//
// Returns:
//   - source.Source: Connected source
//   - error: Configuration or connection error
func CreateSource(ctx context.Context, cfg *SourceConfig) (source.Source, error) {
	switch cfg.Type {
	case "mongo":
		return createMongoSource(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown source type: %q (supported: mongo)", cfg.Type)
	}
}

func createMongoSource(ctx context.Context, options map[string]any) (source.Source, error) {
	type MongoOptions struct {
		URI                string        `mapstructure:"uri"`
		Host               string        `mapstructure:"host"`
		Port               int           `mapstructure:"port"`
		Database           string        `mapstructure:"database"`
		Username           string        `mapstructure:"username"`
		Password           string        `mapstructure:"password"`
		Collection         string        `mapstructure:"collection"`
		SettingsCollection string        `mapstructure:"settings_collection"`
		BatchSize          int           `mapstructure:"batch_size"`
		Timeout            time.Duration `mapstructure:"timeout"`
	}

	var opts MongoOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode mongo source config: %w", err)
	}

	if opts.URI == "" && opts.Host == "" {
		return nil, fmt.Errorf("mongo source: uri or host is required")
	}

	src, err := mongo.NewMongoSource(ctx, mongo.MongoSourceConfig{
		URI:                opts.URI,
		Host:               opts.Host,
		Port:               opts.Port,
		Database:           opts.Database,
		Username:           opts.Username,
		Password:           opts.Password,
		Collection:         opts.Collection,
		SettingsCollection: opts.SettingsCollection,
		BatchSize:          opts.BatchSize,
		Timeout:            opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo source: %w", err)
	}

	return src, nil
}

// CreateTarget creates the destination storage based on configuration.
//
// This factory function uses the Type field to determine which target
// implementation to create, then decodes the type-specific configuration from
// the corresponding map and passes it to the target's constructor.
//
// Supported types:
//   - "filesystem": Uses pkg/target/fs (local directory)
//   - "s3": Uses pkg/target/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Target configuration
//   - src: The open source; consulted for the installation unique id when an
//     S3 target does not configure one
//
// Returns:
//   - target.Target: Initialized target
//   - error: Configuration or initialization error
func CreateTarget(ctx context.Context, cfg *TargetConfig, src source.Source) (target.Target, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemTarget(ctx, cfg.Filesystem)
	case "s3":
		return createS3Target(ctx, cfg.S3, src)
	default:
		return nil, fmt.Errorf("unknown target type: %q (supported: filesystem, s3)", cfg.Type)
	}
}

// createFilesystemTarget creates a filesystem-based target.
func createFilesystemTarget(ctx context.Context, options map[string]any) (target.Target, error) {
	type FilesystemTargetOptions struct {
		Path      string `mapstructure:"path"`
		CreateDir bool   `mapstructure:"create_dir"`
		DirMode   uint32 `mapstructure:"dir_mode"`
		FileMode  uint32 `mapstructure:"file_mode"`
	}

	var opts FilesystemTargetOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem target config: %w", err)
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("filesystem target: path is required")
	}

	tgt, err := targetFs.NewFSTarget(ctx, targetFs.FSTargetConfig{
		Path:      opts.Path,
		CreateDir: opts.CreateDir,
		DirMode:   os.FileMode(opts.DirMode),
		FileMode:  os.FileMode(opts.FileMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem target: %w", err)
	}

	return tgt, nil
}

// createS3Target creates an S3-based target.
func createS3Target(ctx context.Context, options map[string]any, src source.Source) (target.Target, error) {
	type S3TargetOptions struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		UniqueID        string `mapstructure:"unique_id"`
		PartSize        int64  `mapstructure:"part_size"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var opts S3TargetOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 target config: %w", err)
	}

	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 target: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 target: region is required")
	}

	uniqueID := opts.UniqueID
	if uniqueID == "" {
		provider, ok := src.(source.UniqueIDProvider)
		if !ok {
			return nil, fmt.Errorf("S3 target: unique_id is required for this source")
		}
		id, err := provider.UniqueID(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 target: failed to read installation unique id: %w", err)
		}
		uniqueID = id
	}

	client, err := newS3Client(ctx, opts.Region, opts.Endpoint, opts.AccessKeyID, opts.SecretAccessKey, opts.MaxRetries)
	if err != nil {
		return nil, err
	}

	tgt, err := targetS3.NewS3Target(ctx, targetS3.S3TargetConfig{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
		UniqueID:  uniqueID,
		PartSize:  opts.PartSize,
		Metrics:   metrics.NewS3Metrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 target: %w", err)
	}

	logger.Info("S3 target initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)

	return tgt, nil
}

// newS3Client builds an S3 client from static settings, falling back to the
// default AWS credential chain when no keys are given.
func newS3Client(ctx context.Context, region, endpoint, accessKeyID, secretAccessKey string, maxRetries int) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(region),
	}

	if accessKeyID != "" && secretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	// Default to 10 attempts (AWS default is 3) for transient 5xx and timeouts
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// CreateLedger opens the migration ledger based on configuration.
//
// Supported types:
//   - "file": append-only JSON lines file (pkg/ledger FileLedger)
//   - "badger": BadgerDB directory (pkg/ledger BadgerLedger)
func CreateLedger(ctx context.Context, cfg *LedgerConfig) (ledger.Ledger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("ledger: path is required")
	}

	switch cfg.Type {
	case "file":
		l, err := ledger.OpenFileLedger(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file ledger: %w", err)
		}
		return l, nil
	case "badger":
		l, err := ledger.OpenBadgerLedger(ctx, ledger.BadgerLedgerConfig{DBPath: cfg.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger ledger: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ledger type: %q (supported: file, badger)", cfg.Type)
	}
}
