package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var logger = log.WithField("package", "storage")

const (
	DEFAULT_PARALLELISM = 5
	maxDeleteBatch      = 1000
)

// S3API is the subset of the S3 client used for publishing
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// SyncResult summarizes one publish
type SyncResult struct {
	Uploaded int
	Skipped  int
	Deleted  int
	Bytes    int64
}

// Publisher pushes a build directory to an environment's storage target
type Publisher interface {
	// Publish mirrors dir into bucket, deleting keys that no longer exist locally
	Publish(ctx context.Context, dir, bucket string) (*SyncResult, error)
	// Backup copies every object of bucket into backupBucket under prefix
	Backup(ctx context.Context, bucket, backupBucket, prefix string) (int, error)
}

// S3Publisher syncs directories to S3 website buckets
type S3Publisher struct {
	client      S3API
	parallelism int
}

// Ensure S3Publisher implements Publisher
var _ Publisher = (*S3Publisher)(nil)

// NewS3Publisher creates a new S3 publisher
func NewS3Publisher(client S3API) *S3Publisher {
	return &S3Publisher{client: client, parallelism: DEFAULT_PARALLELISM}
}

type localFile struct {
	key  string
	path string
	etag string
	size int64
}

func (p *S3Publisher) Publish(ctx context.Context, dir, bucket string) (*SyncResult, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}
	local, err := scanLocal(dir)
	if err != nil {
		return nil, err
	}
	remote, err := p.listETags(ctx, bucket, "")
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for _, f := range local {
		if remote[f.key] == f.etag {
			result.Skipped++
			continue
		}
		f := f
		g.Go(func() error {
			if err := p.upload(gctx, bucket, f); err != nil {
				return err
			}
			mu.Lock()
			result.Uploaded++
			result.Bytes += f.size
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	var extra []string
	for key := range remote {
		if _, ok := local[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	deleted, err := p.deleteKeys(ctx, bucket, extra)
	result.Deleted = deleted
	if err != nil {
		return result, err
	}

	logger.WithFields(log.Fields{
		"bucket":   bucket,
		"uploaded": result.Uploaded,
		"skipped":  result.Skipped,
		"deleted":  result.Deleted,
	}).Info("Published artifact")
	return result, nil
}

func (p *S3Publisher) Backup(ctx context.Context, bucket, backupBucket, prefix string) (int, error) {
	remote, err := p.listETags(ctx, bucket, "")
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(remote))
	for k := range remote {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	copied := 0
	for _, key := range keys {
		_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(backupBucket),
			Key:        aws.String(path.Join(prefix, key)),
			CopySource: aws.String(url.PathEscape(bucket) + "/" + escapeKey(key)),
		})
		if err != nil {
			return copied, fmt.Errorf("failed to back up %s/%s: %w", bucket, key, err)
		}
		copied++
	}
	logger.WithField("bucket", bucket).WithField("backup", backupBucket).WithField("objects", copied).Info("Backed up bucket")
	return copied, nil
}

func (p *S3Publisher) upload(ctx context.Context, bucket string, f localFile) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(f.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ContentType(f.key, data)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", f.key, err)
	}
	return nil
}

func (p *S3Publisher) deleteKeys(ctx context.Context, bucket string, keys []string) (int, error) {
	deleted := 0
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete stale objects: %w", err)
		}
		if len(out.Errors) > 0 {
			return deleted, fmt.Errorf("failed to delete %d stale objects, first: %s", len(out.Errors), aws.ToString(out.Errors[0].Key))
		}
		deleted += len(ids)
	}
	return deleted, nil
}

// listETags maps every key under prefix to its unquoted ETag
func (p *S3Publisher) listETags(ctx context.Context, bucket, prefix string) (map[string]string, error) {
	etags := map[string]string{}
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			etags[aws.ToString(obj.Key)] = strings.Trim(aws.ToString(obj.ETag), `"`)
		}
	}
	return etags, nil
}

func scanLocal(dir string) (map[string]localFile, error) {
	files := map[string]localFile{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		sum := md5.Sum(data)
		key := filepath.ToSlash(rel)
		files[key] = localFile{key: key, path: p, etag: hex.EncodeToString(sum[:]), size: int64(len(data))}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan artifact directory %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("artifact directory %s is empty", dir)
	}
	return files, nil
}

// ContentType prefers the extension so website assets get browser-correct types,
// falling back to content sniffing
func ContentType(key string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return mimetype.Detect(data).String()
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
