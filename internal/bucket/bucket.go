// Package bucket implements the "download object to local path" primitive
// against S3-compatible object storage, where the provisioning images for
// flash are published.
package bucket

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// Client downloads objects from an S3-compatible bucket.
type Client struct {
	downloader *manager.Downloader
	log        *logrus.Logger
}

// New creates a Client using the default AWS credential chain (env,
// shared credentials file, instance role).
func New(ctx context.Context, region string, log *logrus.Logger) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Client{
		downloader: manager.NewDownloader(s3.NewFromConfig(cfg)),
		log:        log,
	}, nil
}

// NewForEndpoint creates a Client against a custom S3-compatible endpoint
// (MinIO and the like) with static credentials. SessionToken is optional.
func NewForEndpoint(ctx context.Context, endpoint, region, accessKeyID, secretKey, sessionToken string, log *logrus.Logger) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, sessionToken)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	s3cli := s3.NewFromConfig(cfg, func(options *s3.Options) {
		options.BaseEndpoint = aws.String(endpoint)
		options.UsePathStyle = true
	})

	return &Client{
		downloader: manager.NewDownloader(s3cli),
		log:        log,
	}, nil
}

// Download fetches s3://<bucketName>/<key> into localPath.
func (c *Client) Download(ctx context.Context, bucketName, key, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	defer f.Close()

	c.log.WithFields(logrus.Fields{"bucket": bucketName, "key": key, "dest": localPath}).Info("downloading image archive")

	n, err := c.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("downloading s3://%s/%s: %w", bucketName, key, err)
	}

	c.log.WithField("bytes", n).Debug("download complete")
	return nil
}

// ParseURL splits a bucket URL of the form s3://name[/prefix] into the
// bucket name and key prefix.
func ParseURL(url string) (name, prefix string, err error) {
	// a bare bucket name without the scheme is tolerated
	trimmed := strings.Trim(strings.TrimPrefix(url, "s3://"), "/")
	if trimmed == "" {
		return "", "", fmt.Errorf("invalid bucket URL %q", url)
	}

	name, prefix, _ = strings.Cut(trimmed, "/")
	return name, prefix, nil
}
