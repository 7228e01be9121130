package trace

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHierarchy(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []spanRecord{
		{Name: "deploy.build", SpanID: "b", ParentID: "root", Start: base.Add(time.Second), End: base.Add(2 * time.Second), Duration: time.Second},
		{Name: "deploy.push", SpanID: "p", ParentID: "root", Start: base.Add(3 * time.Second), End: base.Add(4 * time.Second), Duration: time.Second, Failed: true},
		{Name: "deploy", SpanID: "root", Start: base, End: base.Add(5 * time.Second), Duration: 5 * time.Second},
	}

	tree := buildHierarchy(records)
	require.Len(t, tree, 1)
	assert.Equal(t, "deploy", tree[0].Name)
	assert.Equal(t, 5000.0, tree[0].DurationMs)
	require.Len(t, tree[0].Children, 2)
	assert.Equal(t, "deploy.build", tree[0].Children[0].Name)
	assert.True(t, tree[0].Children[1].Failed)
}

func TestInitTracerExportsReport(t *testing.T) {
	dir := t.TempDir()
	shutdown, err := InitTracer("bluegreen-test", true, dir)
	require.NoError(t, err)

	ctx, root := StartSpan(context.Background(), "deploy")
	_, child := StartSpan(ctx, "deploy.switch")
	EndSpan(child, errors.New("lambda failed"))
	EndSpan(root, nil)
	shutdown()

	data, err := os.ReadFile(filepath.Join(dir, REPORT_FILE))
	require.NoError(t, err)
	var report PerformanceReport
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Spans, 1)
	assert.Equal(t, "deploy", report.Spans[0].Name)
	require.Len(t, report.Spans[0].Children, 1)
	assert.True(t, report.Spans[0].Children[0].Failed)

	tracer, spanRecorder, outputDir = nil, nil, ""
}

func TestDisabledTracerIsNoop(t *testing.T) {
	shutdown, err := InitTracer("x", false, t.TempDir())
	require.NoError(t, err)
	ctx, span := StartSpan(context.Background(), "noop")
	assert.NotNil(t, ctx)
	EndSpan(span, nil)
	shutdown()
}
