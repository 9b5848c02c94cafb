package creds

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures access to the S3-compatible bucket that stores
// legacy credential archives.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Fetcher retrieves credential archives from an S3-compatible object
// store. The legacy session string's key part is the SSE-C customer key
// (base64 of a 32-byte AES key) the archive was stored with.
type S3Fetcher struct {
	opts S3Options
}

// NewS3Fetcher creates a fetcher for the given bucket.
func NewS3Fetcher(opts S3Options) *S3Fetcher {
	return &S3Fetcher{opts: opts}
}

// Fetch downloads the archive object named fileID, decrypted with key
// when one is present.
func (f *S3Fetcher) Fetch(ctx context.Context, fileID, key string) ([]byte, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(f.opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			f.opts.AccessKey,
			f.opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load archive client config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if f.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(f.opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	input := &s3.GetObjectInput{
		Bucket: aws.String(f.opts.Bucket),
		Key:    aws.String(fileID),
	}
	if key != "" {
		rawKey, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("decode archive key: %w", err)
		}
		sum := md5.Sum(rawKey)
		input.SSECustomerAlgorithm = aws.String("AES256")
		input.SSECustomerKey = aws.String(key)
		input.SSECustomerKeyMD5 = aws.String(base64.StdEncoding.EncodeToString(sum[:]))
	}

	out, err := client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("fetch archive %s: %w", fileID, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read archive body: %w", err)
	}
	return data, nil
}
