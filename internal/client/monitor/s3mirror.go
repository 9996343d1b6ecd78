package monitor

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorConfig describes the S3-compatible endpoint the studio's mirror
// storage is exported through (Cloudflare R2 or a minio gateway in front of
// the NAS).
type MirrorConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// headBucketAPI is the single S3 call the prober needs.
type headBucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Mirror probes an S3-compatible bucket with HeadBucket. A successful
// call means the mirror is reachable and the credentials still work.
type S3Mirror struct {
	client headBucketAPI
	bucket string
}

// NewS3Mirror builds the prober from config.
func NewS3Mirror(ctx context.Context, mc MirrorConfig) (*S3Mirror, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(mc.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			mc.AccessKey, mc.SecretKey, "")))
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror credentials: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(mc.Endpoint)
		o.UsePathStyle = true
	})

	return &S3Mirror{client: client, bucket: mc.Bucket}, nil
}

func (m *S3Mirror) Probe(ctx context.Context) error {
	_, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(m.bucket)})
	if err != nil {
		return fmt.Errorf("mirror unreachable: %w", err)
	}
	return nil
}
