package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// s3API is the subset of *s3.Client the storage uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Storage implements Storage using Amazon S3 or S3-compatible services.
// Objects are keyed <prefix>/<run id>/<file id>/<name>.
type S3Storage struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(ctx context.Context, cfg *Config) (*S3Storage, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}
	if cfg.S3Region == "" {
		return nil, fmt.Errorf("S3 region is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return newS3Storage(s3.NewFromConfig(awsCfg, opts...), cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3Storage(client s3API, bucket, prefix string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Upload stores a file in S3 and returns its metadata
func (s *S3Storage) Upload(ctx context.Context, runID uuid.UUID, filename string, contentType string, r io.Reader) (*FileInfo, error) {
	// Page images are small; a seekable body lets the SDK sign the payload.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	fileID := uuid.New()
	key := s.fileKey(runID, fileID, sanitizeFilename(filename))

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata:      map[string]string{"name": filename},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &FileInfo{
		ID:          fileID,
		RunID:       runID,
		Name:        filename,
		Size:        int64(len(data)),
		ContentType: contentType,
		Path:        key,
		CreatedAt:   time.Now(),
	}, nil
}

// Download retrieves a file from S3 by its ID
func (s *S3Storage) Download(ctx context.Context, runID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error) {
	info, err := s.GetInfo(ctx, runID, fileID)
	if err != nil {
		return nil, nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(info.Path),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return nil, nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	if result.ContentType != nil {
		info.ContentType = *result.ContentType
	}
	if name, ok := result.Metadata["name"]; ok {
		info.Name = name
	}

	return result.Body, info, nil
}

// Delete removes a file from S3 by its ID
func (s *S3Storage) Delete(ctx context.Context, runID uuid.UUID, fileID uuid.UUID) error {
	info, err := s.GetInfo(ctx, runID, fileID)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(info.Path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// DeleteRun removes every object under the run prefix
func (s *S3Storage) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	objects, err := s.listObjects(ctx, s.runPrefix(runID))
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return s.deleteKeys(ctx, keys)
}

// List returns all files for a run from S3
func (s *S3Storage) List(ctx context.Context, runID uuid.UUID) ([]*FileInfo, error) {
	objects, err := s.listObjects(ctx, s.runPrefix(runID))
	if err != nil {
		return nil, err
	}

	files := make([]*FileInfo, 0, len(objects))
	for _, obj := range objects {
		if info, ok := s.infoFromObject(runID, obj); ok {
			files = append(files, info)
		}
	}
	return files, nil
}

// GetInfo returns metadata for a file without downloading
func (s *S3Storage) GetInfo(ctx context.Context, runID uuid.UUID, fileID uuid.UUID) (*FileInfo, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.runPrefix(runID) + fileID.String() + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat S3 object: %w", err)
	}
	if len(out.Contents) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}

	info, ok := s.infoFromObject(runID, out.Contents[0])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	return info, nil
}

// GetReader returns a reader for a file from S3
func (s *S3Storage) GetReader(ctx context.Context, runID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, error) {
	reader, _, err := s.Download(ctx, runID, fileID)
	return reader, err
}

// Purge deletes objects under the storage prefix last modified before olderThan.
func (s *S3Storage) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}
	objects, err := s.listObjects(ctx, root)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0)
	for _, obj := range objects {
		if obj.LastModified != nil && obj.LastModified.Before(olderThan) {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *S3Storage) listObjects(ctx context.Context, prefix string) ([]types.Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []types.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}

// deleteKeys removes keys in batches of the 1000-object DeleteObjects limit.
func (s *S3Storage) deleteKeys(ctx context.Context, keys []string) error {
	const batch = 1000
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete S3 objects: %w", err)
		}
		if len(out.Errors) > 0 {
			return fmt.Errorf("failed to delete %d S3 objects, first %s: %s",
				len(out.Errors), aws.ToString(out.Errors[0].Key), aws.ToString(out.Errors[0].Message))
		}
	}
	return nil
}

func (s *S3Storage) runPrefix(runID uuid.UUID) string {
	if s.prefix == "" {
		return runID.String() + "/"
	}
	return s.prefix + "/" + runID.String() + "/"
}

func (s *S3Storage) fileKey(runID, fileID uuid.UUID, name string) string {
	return s.runPrefix(runID) + fileID.String() + "/" + name
}

// infoFromObject rebuilds file metadata from a listed object's key.
func (s *S3Storage) infoFromObject(runID uuid.UUID, obj types.Object) (*FileInfo, bool) {
	key := aws.ToString(obj.Key)
	rest := strings.TrimPrefix(key, s.runPrefix(runID))
	idPart, name, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, false
	}
	fileID, err := uuid.Parse(idPart)
	if err != nil {
		return nil, false
	}

	info := &FileInfo{
		ID:          fileID,
		RunID:       runID,
		Name:        path.Base(name),
		Size:        aws.ToInt64(obj.Size),
		ContentType: contentTypeFor(name),
		Path:        key,
	}
	if obj.LastModified != nil {
		info.CreatedAt = *obj.LastModified
	}
	return info, true
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}
