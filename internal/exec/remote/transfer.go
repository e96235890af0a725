package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
)

// Transfer moves run objects between the submitting host and the sandbox.
type Transfer interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ObjectTransfer is the object-store Transfer used in real deployments.
type ObjectTransfer struct {
	client *minio.Client
	bucket string
}

func NewObjectTransfer(client *minio.Client, bucket string) (*ObjectTransfer, error) {
	if client == nil {
		return nil, errors.New("object store client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &ObjectTransfer{client: client, bucket: bucket}, nil
}

func (t *ObjectTransfer) Upload(ctx context.Context, key string, data []byte) error {
	if t == nil || t.client == nil {
		return errors.New("transfer not initialized")
	}
	_, err := t.client.PutObject(ctx, t.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (t *ObjectTransfer) Download(ctx context.Context, key string) ([]byte, error) {
	if t == nil || t.client == nil {
		return nil, errors.New("transfer not initialized")
	}
	obj, err := t.client.GetObject(ctx, t.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (t *ObjectTransfer) List(ctx context.Context, prefix string) ([]string, error) {
	if t == nil || t.client == nil {
		return nil, errors.New("transfer not initialized")
	}
	var keys []string
	for obj := range t.client.ListObjects(ctx, t.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
