package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	appconfig "github.com/IotchulindraRai/photofilter/internal/config"
)

// S3Repository stores exported images in an S3-compatible bucket.
type S3Repository interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) error
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
	ListFiles(ctx context.Context, prefix string) ([]string, error)
}

type s3Repository struct {
	client *s3.Client
	cfg    *appconfig.S3Config
	log    *zap.Logger
}

func NewS3Repository(ctx context.Context, cfg *appconfig.S3Config, log *zap.Logger) (S3Repository, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg))
		}
		o.UsePathStyle = true
	})

	repo := &s3Repository{
		client: client,
		cfg:    cfg,
		log:    log,
	}

	if err := repo.ensureBucketExists(ctx); err != nil {
		log.Warn("Failed to ensure bucket exists", zap.Error(err))
	}

	return repo, nil
}

func endpointURL(cfg *appconfig.S3Config) string {
	if strings.Contains(cfg.Endpoint, "://") {
		return cfg.Endpoint
	}
	if cfg.UseSSL {
		return "https://" + cfg.Endpoint
	}
	return "http://" + cfg.Endpoint
}

func (r *s3Repository) ensureBucketExists(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(r.cfg.BucketName),
	})
	if err == nil {
		r.log.Info("Bucket already exists", zap.String("bucket", r.cfg.BucketName))
		return nil
	}

	r.log.Info("Creating bucket", zap.String("bucket", r.cfg.BucketName))

	input := &s3.CreateBucketInput{Bucket: aws.String(r.cfg.BucketName)}
	// us-east-1 rejects an explicit location constraint.
	if r.cfg.Region != "" && r.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(r.cfg.Region),
		}
	}
	if _, err := r.client.CreateBucket(ctx, input); err != nil {
		return err
	}

	r.log.Info("Bucket created successfully", zap.String("bucket", r.cfg.BucketName))
	return nil
}

func (r *s3Repository) UploadFile(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.cfg.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		r.log.Error("Failed to upload file to S3",
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	r.log.Info("File uploaded to S3",
		zap.String("key", key),
		zap.Int("size", len(data)))

	return nil
}

func (r *s3Repository) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		r.log.Error("Failed to download file from S3",
			zap.String("key", key),
			zap.Error(err))
		return nil, err
	}

	return output.Body, nil
}

func (r *s3Repository) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.cfg.BucketName),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}
