package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternpress/internal/config"
)

type put struct {
	Key         string
	ContentType string
}

type fakeStore struct {
	exists  bool
	made    []string
	puts    []put
	failKey string
}

func (f *fakeStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.exists, nil
}

func (f *fakeStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	f.exists = true
	return nil
}

func (f *fakeStore) FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if object == f.failKey {
		return minio.UploadInfo{}, errors.New("access denied")
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.puts = append(f.puts, put{Key: object, ContentType: opts.ContentType})
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: info.Size()}, nil
}

func writeSite(t *testing.T) string {
	t.Helper()
	site := filepath.Join(t.TempDir(), "test_book")
	for rel, body := range map[string]string{
		"index.html":                  "<html>hub</html>",
		"themes/innocence/index.html": "<html>theme</html>",
		"essay-guide/index.html":      "<html>guide</html>",
	} {
		full := filepath.Join(site, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}
	return site
}

func TestPublish(t *testing.T) {
	store := &fakeStore{}
	p := New(store, "sites", "/books/")

	res, err := p.Publish(context.Background(), "test_book", writeSite(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"sites"}, store.made)

	keys := append([]string(nil), res.Objects...)
	sort.Strings(keys)
	assert.Equal(t, []string{
		"books/test_book/essay-guide/index.html",
		"books/test_book/index.html",
		"books/test_book/themes/innocence/index.html",
	}, keys)
	assert.Equal(t, int64(len("<html>hub</html>")+len("<html>theme</html>")+len("<html>guide</html>")), res.Bytes)
	for _, p := range store.puts {
		assert.Contains(t, p.ContentType, "text/html")
	}
}

func TestPublish_ExistingBucketNoPrefix(t *testing.T) {
	store := &fakeStore{exists: true}
	p := New(store, "sites", "")

	_, err := p.Publish(context.Background(), "test_book", writeSite(t))
	require.NoError(t, err)
	assert.Empty(t, store.made)
	assert.Equal(t, "test_book/index.html", p.ObjectKey("test_book", "index.html"))
}

func TestPublish_UploadError(t *testing.T) {
	store := &fakeStore{exists: true, failKey: "test_book/index.html"}
	_, err := New(store, "sites", "").Publish(context.Background(), "test_book", writeSite(t))
	assert.ErrorContains(t, err, "access denied")
}

func TestPublish_EmptySite(t *testing.T) {
	_, err := New(&fakeStore{exists: true}, "sites", "").Publish(context.Background(), "empty", t.TempDir())
	assert.ErrorContains(t, err, "no files")
}

func TestNewFromConfig(t *testing.T) {
	_, err := NewFromConfig(config.PublishConfig{})
	assert.Error(t, err)

	p, err := NewFromConfig(config.PublishConfig{Endpoint: "localhost:9000", Bucket: "sites", Prefix: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x/s/index.html", p.ObjectKey("s", "index.html"))
}
