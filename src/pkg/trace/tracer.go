package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	TRACER_NAME      = "bluegreen"
	REPORT_FILE      = "performance-report.json"
	SHUTDOWN_TIMEOUT = 5 * time.Second
)

var (
	tracer       trace.Tracer
	spanRecorder *SpanRecorder
	outputDir    string
)

// SpanRecorder collects finished spans; stages may end spans from several goroutines
type SpanRecorder struct {
	mu    sync.Mutex
	spans []spanRecord
}

type spanRecord struct {
	Name     string
	Duration time.Duration
	Start    time.Time
	End      time.Time
	ParentID string
	SpanID   string
	Failed   bool
}

func (r *SpanRecorder) add(rec spanRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, rec)
}

func (r *SpanRecorder) snapshot() []spanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]spanRecord(nil), r.spans...)
}

type SpanInfo struct {
	Name       string     `json:"name"`
	DurationMs float64    `json:"durationMs"`
	Start      string     `json:"start"`
	End        string     `json:"end"`
	Failed     bool       `json:"failed,omitempty"`
	Children   []SpanInfo `json:"children,omitempty"`
}

type PerformanceReport struct {
	Spans           []SpanInfo `json:"spans"`
	TotalDurationMs float64    `json:"totalDurationMs"`
	Timestamp       string     `json:"timestamp"`
}

// InitTracer initializes OpenTelemetry tracing; when disabled every span is a no-op
func InitTracer(serviceName string, enabled bool, outDir string) (func(), error) {
	if !enabled {
		return func() {}, nil
	}

	spanRecorder = &SpanRecorder{}
	outputDir = outDir

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(&recordingSpanProcessor{recorder: spanRecorder}),
	)

	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(TRACER_NAME)

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
		defer cancel()
		_ = tp.Shutdown(ctx)
		_ = ExportReport()
	}

	return shutdown, nil
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordingSpanProcessor records spans for the performance report
type recordingSpanProcessor struct {
	recorder *SpanRecorder
}

func (p *recordingSpanProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {}

func (p *recordingSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if p.recorder == nil {
		return
	}
	parentID := ""
	if s.Parent().IsValid() {
		parentID = s.Parent().SpanID().String()
	}
	p.recorder.add(spanRecord{
		Name:     s.Name(),
		Duration: s.EndTime().Sub(s.StartTime()),
		Start:    s.StartTime(),
		End:      s.EndTime(),
		SpanID:   s.SpanContext().SpanID().String(),
		ParentID: parentID,
		Failed:   s.Status().Code == codes.Error,
	})
}

func (p *recordingSpanProcessor) Shutdown(ctx context.Context) error   { return nil }
func (p *recordingSpanProcessor) ForceFlush(ctx context.Context) error { return nil }

// ExportReport exports the performance report to a JSON file
func ExportReport() error {
	if spanRecorder == nil || outputDir == "" {
		return nil
	}
	records := spanRecorder.snapshot()
	if len(records) == 0 {
		return nil
	}

	hierarchy := buildHierarchy(records)

	totalDurationMs := 0.0
	for _, span := range hierarchy {
		totalDurationMs += span.DurationMs
	}

	report := PerformanceReport{
		Spans:           hierarchy,
		TotalDurationMs: totalDurationMs,
		Timestamp:       time.Now().Format(time.RFC3339Nano),
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	reportPath := filepath.Join(outputDir, REPORT_FILE)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(reportPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// buildHierarchy nests spans under their parents. Children finish before their parents,
// so nodes are linked by pointer and copied out once the tree is complete.
func buildHierarchy(records []spanRecord) []SpanInfo {
	type node struct {
		info     SpanInfo
		children []*node
	}

	nodes := make(map[string]*node, len(records))
	for _, record := range records {
		nodes[record.SpanID] = &node{info: SpanInfo{
			Name:       record.Name,
			DurationMs: float64(record.Duration.Microseconds()) / 1000.0,
			Start:      record.Start.Format(time.RFC3339Nano),
			End:        record.End.Format(time.RFC3339Nano),
			Failed:     record.Failed,
		}}
	}

	var roots []*node
	for _, record := range records {
		n := nodes[record.SpanID]
		if parent, ok := nodes[record.ParentID]; ok && record.ParentID != "" {
			parent.children = append(parent.children, n)
			continue
		}
		roots = append(roots, n)
	}

	var flatten func(n *node) SpanInfo
	flatten = func(n *node) SpanInfo {
		info := n.info
		sort.Slice(n.children, func(i, j int) bool { return n.children[i].info.Start < n.children[j].info.Start })
		for _, c := range n.children {
			info.Children = append(info.Children, flatten(c))
		}
		return info
	}

	out := make([]SpanInfo, 0, len(roots))
	for _, r := range roots {
		out = append(out, flatten(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
