package repository

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	s3config "detectweb/internal/config"
)

// S3Repository reads model artifacts from an S3 compatible bucket.
type S3Repository interface {
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
}

type s3Repository struct {
	client *s3.Client
	cfg    *s3config.S3Config
	log    *zap.Logger
}

func NewS3Repository(ctx context.Context, cfg *s3config.S3Config, log *zap.Logger) (S3Repository, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg))
		}
	})

	return &s3Repository{
		client: client,
		cfg:    cfg,
		log:    log.Named("s3"),
	}, nil
}

func endpointURL(cfg *s3config.S3Config) string {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + cfg.Endpoint
}

func (r *s3Repository) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.BucketName),
		Key:    aws.String(key),
	})

	if err != nil {
		r.log.Error("Failed to download file from S3",
			zap.String("bucket", r.cfg.BucketName),
			zap.String("key", key),
			zap.Error(err))
		return nil, err
	}

	r.log.Info("Downloading file from S3",
		zap.String("bucket", r.cfg.BucketName),
		zap.String("key", key),
		zap.Int64("size", aws.ToInt64(output.ContentLength)))

	return output.Body, nil
}
