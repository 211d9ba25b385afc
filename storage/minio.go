package storage

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync/atomic"
	"time"

	"KeyShift/logger"
	"KeyShift/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// trackPrefix is the object key prefix of mirrored tracks.
const trackPrefix = "tracks/"

// MinioOptions configures the optional object-storage mirror.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// ObjectInfo describes one mirrored track.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	TrackKey     string // "A minor", empty when unknown
}

// BucketStats summarises the mirror.
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// Mirror copies prepared tracks to a MinIO bucket and removes them again when
// the local cache evicts them. Every operation is best-effort from the
// pipeline's point of view: failures are logged, never surfaced to clients.
type Mirror struct {
	client *minio.Client
	bucket string
}

// NewMirror connects to MinIO and creates the bucket when it does not exist.
func NewMirror(ctx context.Context, opts MinioOptions) (*Mirror, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
		logger.Info("created MinIO bucket", logger.String("bucket", opts.Bucket))
	}

	return &Mirror{client: client, bucket: opts.Bucket}, nil
}

// ObjectKey is the bucket key of a mirrored track.
func ObjectKey(id model.TrackID) string {
	return path.Join(trackPrefix, id.String()+".mp3")
}

// Upload copies the entry's file into the bucket, tagging it with the
// analysis results.
func (m *Mirror) Upload(ctx context.Context, entry model.TrackEntry) error {
	meta := map[string]string{
		"duration": strconv.FormatFloat(entry.Duration, 'f', 3, 64),
		"source":   entry.SourceURL,
	}
	if entry.Key != nil {
		meta["key"] = entry.Key.Name()
		meta["key-confidence"] = entry.Key.Confidence.String()
	}

	info, err := m.client.FPutObject(ctx, m.bucket, ObjectKey(entry.ID), entry.FilePath, minio.PutObjectOptions{
		ContentType:  "audio/mpeg",
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", entry.ID, err)
	}

	logger.Debug("track mirrored",
		logger.String("trackId", entry.ID.String()),
		logger.String("bucket", m.bucket),
		logger.Int64("size", info.Size))
	return nil
}

// Remove deletes the mirrored copy of id. Removing a missing object is not an error.
func (m *Mirror) Remove(ctx context.Context, id model.TrackID) error {
	if err := m.client.RemoveObject(ctx, m.bucket, ObjectKey(id), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// List returns every mirrored track and bucket totals.
func (m *Mirror) List(ctx context.Context) ([]ObjectInfo, *BucketStats, error) {
	var objects []ObjectInfo
	stats := &BucketStats{}

	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:       trackPrefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("list objects: %w", object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			TrackKey:     object.UserMetadata["X-Amz-Meta-Key"],
		})
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
	}
	return objects, stats, nil
}

// Purge removes every object under the track prefix, returning how many were deleted.
func (m *Mirror) Purge(ctx context.Context) (int, error) {
	var listed atomic.Int64
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: trackPrefix, Recursive: true}) {
			if object.Err != nil {
				logger.Warn("list objects during purge", logger.ErrorField(object.Err))
				continue
			}
			listed.Add(1)
			objectsCh <- object
		}
	}()

	failed := 0
	var firstErr error
	for rErr := range m.client.RemoveObjects(ctx, m.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	return int(listed.Load()) - failed, firstErr
}
