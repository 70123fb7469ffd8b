package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// Archiver writes a durable copy of the emitted XML artifact to an
// S3-compatible bucket, independent of the required database upload —
// the write-once artifact a submission produces is worth keeping even if
// the staging tables are later pruned.
type Archiver struct {
	client *minio.Client
	bucket string
}

// NewArchiver connects to an S3-compatible endpoint with static credentials.
func NewArchiver(endpoint, accessKey, secretKey, bucket string, useTLS bool) (*Archiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to archive endpoint %s: %w", endpoint, err)
	}
	return &Archiver{client: client, bucket: bucket}, nil
}

// Archive uploads path under a key named after the submission id, so every
// archived artifact can be traced back to the submission it belongs to.
func (a *Archiver) Archive(ctx context.Context, submissionID int64, path string) error {
	key := fmt.Sprintf("submission-%d/%s", submissionID, filepath.Base(path))

	info, err := a.client.FPutObject(ctx, a.bucket, key, path, minio.PutObjectOptions{
		ContentType: "application/xml",
	})
	if err != nil {
		return fmt.Errorf("archive %s to s3://%s/%s: %w", path, a.bucket, key, err)
	}
	log.Info().Str("bucket", a.bucket).Str("key", key).Int64("bytes", info.Size).Msg("artifact archived")
	return nil
}

// EnsureBucket creates the configured bucket if it doesn't already exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}
