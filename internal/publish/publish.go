// Package publish uploads rendered sites to S3-compatible object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"patternpress/internal/config"
	"patternpress/internal/logging"
)

// ObjectStore is the subset of *minio.Client used for publishing.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Publisher copies a site directory into a bucket under <prefix>/<slug>/.
type Publisher struct {
	store  ObjectStore
	bucket string
	prefix string
}

// Result lists what one publish uploaded.
type Result struct {
	Bucket  string
	Objects []string
	Bytes   int64
}

// New creates a publisher over an existing object store client.
func New(store ObjectStore, bucket, prefix string) *Publisher {
	return &Publisher{store: store, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewFromConfig connects to the configured endpoint.
func NewFromConfig(cfg config.PublishConfig) (*Publisher, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("publish endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return New(client, cfg.Bucket, cfg.Prefix), nil
}

// ObjectKey returns the key a site file is stored under.
func (p *Publisher) ObjectKey(slug, rel string) string {
	return path.Join(p.prefix, slug, filepath.ToSlash(rel))
}

// Publish uploads every file under siteDir. The bucket is created when it
// does not exist yet.
func (p *Publisher) Publish(ctx context.Context, slug, siteDir string) (*Result, error) {
	exists, err := p.store.BucketExists(ctx, p.bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if !exists {
		if err := p.store.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", p.bucket, err)
		}
		logging.Publish("Created bucket %s", p.bucket)
	}

	res := &Result{Bucket: p.bucket}
	err = filepath.WalkDir(siteDir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(siteDir, file)
		if err != nil {
			return err
		}
		key := p.ObjectKey(slug, rel)
		info, err := p.store.FPutObject(ctx, p.bucket, key, file, minio.PutObjectOptions{
			ContentType:  contentType(file),
			CacheControl: "no-cache",
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		logging.PublishDebug("Uploaded %s (%d bytes)", key, info.Size)
		res.Objects = append(res.Objects, key)
		res.Bytes += info.Size
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", slug, err)
	}
	if len(res.Objects) == 0 {
		return nil, fmt.Errorf("publish %s: no files under %s", slug, siteDir)
	}
	logging.Publish("Published %s: %d objects to %s", slug, len(res.Objects), p.bucket)
	return res, nil
}

func contentType(file string) string {
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
