package deploylog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
)

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps the file-per-record layout under a bucket prefix
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// Ensure S3Store implements Store
var _ Store = (*S3Store)(nil)

// NewS3Store creates a new object-storage store
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	if prefix == "" {
		prefix = DEFAULT_LOG_DIR
	}
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3Store) Append(ctx context.Context, rec models.Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	key := s.key(ObjectName(rec))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		// records are immutable: refuse to replace an existing key
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		return fmt.Errorf("failed to put record s3://%s/%s: %w", s.bucket, key, err)
	}
	logger.WithField("bucket", s.bucket).WithField("key", key).Info("Appended record")
	return nil
}

func (s *S3Store) FindLastSuccessfulDeployment(ctx context.Context, match func(*models.DeploymentRecord) bool) (*models.DeploymentRecord, error) {
	entries, err := s.readAll(ctx, models.RECORD_KIND_DEPLOYMENT)
	if err != nil {
		return nil, err
	}
	return lastSuccessful(entries, match)
}

func (s *S3Store) List(ctx context.Context, filter models.ListFilter) ([]models.LogEntry, error) {
	entries, err := s.readAll(ctx, filter.Kind)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(entries)
	return applyFilter(entries, filter), nil
}

func (s *S3Store) readAll(ctx context.Context, only models.RecordKind) ([]models.LogEntry, error) {
	listPrefix := s.prefix + "/"
	if only != "" {
		listPrefix += string(only) + "-"
	}

	var entries []models.LogEntry
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list records in s3://%s/%s: %w", s.bucket, listPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			kind, ok := KindFromName(path.Base(key))
			if !ok {
				continue
			}
			data, err := s.get(ctx, key)
			if err != nil {
				return nil, err
			}
			entry, err := Decode(kind, data)
			if err != nil {
				logger.WithField("key", key).WithError(err).Warn("Skipping unreadable record")
				continue
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get record s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read record s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}
