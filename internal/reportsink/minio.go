package reportsink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOOptions configures the object store sink.
type MinIOOptions struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Prefix    string // default "reports"
}

// MinIO uploads reports to an S3 compatible bucket under
// <prefix>/<run_date>/<name>.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIO connects and creates the bucket when it does not exist.
func NewMinIO(ctx context.Context, opts MinIOOptions) (*MinIO, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
		slog.Info("created report bucket", "bucket", opts.Bucket)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "reports"
	}
	return &MinIO{client: client, bucket: opts.Bucket, prefix: prefix}, nil
}

// Put implements Sink.
func (m *MinIO) Put(ctx context.Context, name, contentType string, data []byte) error {
	key := ObjectKey(m.prefix, name)
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload report %s: %w", key, err)
	}
	slog.Debug("uploaded report", "bucket", m.bucket, "key", key, "bytes", len(data))
	return nil
}

// ObjectKey places a report under its run date, taken from the
// dq_report_<run_date>.<ext> name. Other names go directly under prefix.
func ObjectKey(prefix, name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	if runDate, ok := strings.CutPrefix(base, "dq_report_"); ok && runDate != "" {
		return path.Join(prefix, runDate, name)
	}
	return path.Join(prefix, name)
}
