package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const blobPrefix = "blobs/"

// MinioStore keeps blobs as objects in one MinIO bucket
type MinioStore struct {
	client     *minio.Client
	bucketName string
}

// NewMinioStore connects to MinIO and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStore{client: client, bucketName: bucketName}, nil
}

// Put uploads r as a single object of unknown length.
func (ms *MinioStore) Put(ctx context.Context, ref string, r io.Reader) (int64, error) {
	ctx, span := tracer.Start(ctx, "minio.put_blob",
		trace.WithAttributes(attribute.String("storage_ref", ref)),
	)
	defer span.End()

	if err := validateRef(ref); err != nil {
		return 0, err
	}

	info, err := ms.client.PutObject(ctx, ms.bucketName, blobPrefix+ref, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("%w: upload blob %s: %w", ErrStorage, ref, err)
	}

	span.SetAttributes(attribute.Int64("size_bytes", info.Size))
	return info.Size, nil
}

// Open returns a streaming reader over the object.
func (ms *MinioStore) Open(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	ctx, span := tracer.Start(ctx, "minio.open_blob",
		trace.WithAttributes(attribute.String("storage_ref", ref)),
	)
	defer span.End()

	if err := validateRef(ref); err != nil {
		return nil, 0, err
	}

	object, err := ms.client.GetObject(ctx, ms.bucketName, blobPrefix+ref, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("%w: get blob %s: %w", ErrStorage, ref, err)
	}

	// GetObject is lazy; Stat surfaces a missing key.
	stat, err := object.Stat()
	if err != nil {
		object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, ErrBlobNotFound
		}
		span.RecordError(err)
		return nil, 0, fmt.Errorf("%w: stat blob %s: %w", ErrStorage, ref, err)
	}

	return object, stat.Size, nil
}

// Delete removes the object
func (ms *MinioStore) Delete(ctx context.Context, ref string) error {
	ctx, span := tracer.Start(ctx, "minio.delete_blob",
		trace.WithAttributes(attribute.String("storage_ref", ref)),
	)
	defer span.End()

	if err := validateRef(ref); err != nil {
		return err
	}

	err := ms.client.RemoveObject(ctx, ms.bucketName, blobPrefix+ref, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		span.RecordError(err)
		return fmt.Errorf("%w: delete blob %s: %w", ErrStorage, ref, err)
	}

	return nil
}
