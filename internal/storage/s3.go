// Package storage uploads fetched artifacts to an S3-compatible bucket
// and hands back time-limited presigned URLs.
package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultLinkTTL is how long a download link stays fetchable.
const DefaultLinkTTL = 36 * time.Hour

type Config struct {
	Endpoint  string // custom endpoint for S3-compatible providers
	Region    string
	KeyID     string
	KeySecret string
	Bucket    string
	LinkTTL   time.Duration
}

type Uploader struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	linkTTL   time.Duration
}

func New(ctx context.Context, c Config) (*Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.KeyID, c.KeySecret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := c.LinkTTL
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &Uploader{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    c.Bucket,
		linkTTL:   ttl,
	}, nil
}

// ObjectKey namespaces stored artifacts per user.
func ObjectKey(userID int64, fileName string) string {
	return fmt.Sprintf("user_videos/%d/%s", userID, fileName)
}

// Upload stores the local file under key and returns a presigned GET
// URL valid for the configured TTL.
func (u *Uploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}

	res, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(u.linkTTL))
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return res.URL, nil
}
