package deploylog

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 4, 10, 15, 30, 123000000, time.UTC)

func deployment(group string, color models.Color, offset time.Duration, success bool) *models.DeploymentRecord {
	return &models.DeploymentRecord{
		ID:          group + string(color) + offset.String(),
		Timestamp:   base.Add(offset),
		Environment: group,
		DeployedTo:  color,
		Version:     "1.0.0",
		Commit:      "abc123",
		Success:     success,
	}
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		rec  models.Record
		want string
	}{
		{deployment("staging", models.COLOR_BLUE, 0, true), "deployment-2025-03-04T10-15-30.123Z.json"},
		{&models.RollbackRecord{Timestamp: base, Environment: "production"}, "rollback-2025-03-04T10-15-30.123Z.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ObjectName(tt.rec))
		kind, ok := KindFromName(tt.want)
		assert.True(t, ok)
		assert.Equal(t, tt.rec.Kind(), kind)
	}

	_, ok := KindFromName("monitoring-report-2025.json")
	assert.False(t, ok)
}

// storeContract runs the same behaviour checks against every backend
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	// blue deployed, then green deployed and now active, then a failed blue attempt
	require.NoError(t, store.Append(ctx, deployment("staging", models.COLOR_BLUE, 0, true)))
	require.NoError(t, store.Append(ctx, deployment("staging", models.COLOR_GREEN, time.Minute, true)))
	require.NoError(t, store.Append(ctx, deployment("staging", models.COLOR_BLUE, 2*time.Minute, false)))
	require.NoError(t, store.Append(ctx, deployment("production", models.COLOR_BLUE, 3*time.Minute, true)))
	require.NoError(t, store.Append(ctx, &models.RollbackRecord{
		Timestamp: base.Add(4 * time.Minute), Environment: "staging",
		RolledBackTo: models.COLOR_BLUE, RolledBackFrom: models.COLOR_GREEN, Success: true,
	}))

	t.Run("previous color for rollback", func(t *testing.T) {
		rec, err := store.FindLastSuccessfulDeployment(ctx, ForGroupExcluding("staging", models.COLOR_GREEN))
		require.NoError(t, err)
		assert.Equal(t, models.COLOR_BLUE, rec.DeployedTo)
		assert.True(t, rec.Timestamp.Equal(base))
	})

	t.Run("newest successful overall", func(t *testing.T) {
		rec, err := store.FindLastSuccessfulDeployment(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "production", rec.Environment)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := store.FindLastSuccessfulDeployment(ctx, ForGroupExcluding("qa", models.COLOR_BLUE))
		assert.ErrorIs(t, err, ErrNoRecord)
	})

	t.Run("list newest first with filters", func(t *testing.T) {
		all, err := store.List(ctx, models.ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, models.RECORD_KIND_ROLLBACK, all[0].Kind)
		assert.True(t, sort.SliceIsSorted(all, func(i, j int) bool { return all[i].Timestamp().After(all[j].Timestamp()) }))

		staging, err := store.List(ctx, models.ListFilter{Group: "staging", Kind: models.RECORD_KIND_DEPLOYMENT, Limit: 2})
		require.NoError(t, err)
		require.Len(t, staging, 2)
		assert.False(t, staging[0].Deployment.Success)
		assert.Equal(t, models.COLOR_GREEN, staging[1].Deployment.DeployedTo)
	})
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deployment-logs")
	storeContract(t, NewFileStore(dir))

	names, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, names, 5)
}

func TestFileStoreNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir)

	first := deployment("staging", models.COLOR_BLUE, 0, true)
	second := deployment("staging", models.COLOR_GREEN, 0, false)
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	entries, err := store.List(ctx, models.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFileStoreSkipsUnreadableAndMissingDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "missing"))

	entries, err := store.List(ctx, models.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	store = NewFileStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deployment-broken.json"), []byte("{"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644))
	require.NoError(t, store.Append(ctx, deployment("staging", models.COLOR_BLUE, 0, true)))

	entries, err = store.List(ctx, models.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppendRejectsIncompleteRecords(t *testing.T) {
	store := NewFileStore(t.TempDir())
	assert.Error(t, store.Append(context.Background(), &models.DeploymentRecord{Timestamp: base}))
	assert.Error(t, store.Append(context.Background(), &models.DeploymentRecord{Environment: "staging"}))
}

type mockS3 struct {
	objects map[string][]byte
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if _, exists := m.objects[key]; exists && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for key := range m.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	client := &mockS3{objects: map[string][]byte{}}
	storeContract(t, NewS3Store(client, "audit-bucket", "deployment-logs"))

	assert.Contains(t, client.objects, "deployment-logs/deployment-2025-03-04T10-15-30.123Z.json")

	err := NewS3Store(client, "audit-bucket", "").Append(context.Background(), deployment("staging", models.COLOR_BLUE, 0, true))
	assert.Error(t, err)
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/00001_deployment_events.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- +goose Up")
	assert.Contains(t, string(data), "deployment_events")
}

func TestRecordColumns(t *testing.T) {
	id, color, success := recordColumns(deployment("staging", models.COLOR_GREEN, 0, true))
	assert.NotEmpty(t, id)
	assert.Equal(t, models.COLOR_GREEN, color)
	assert.True(t, success)

	_, color, _ = recordColumns(&models.RollbackRecord{RolledBackTo: models.COLOR_BLUE})
	assert.Equal(t, models.COLOR_BLUE, color)
}
