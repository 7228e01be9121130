package monitor

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/template"
)

const DEFAULT_REPORT_DIR = "monitoring-reports"

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v) }
func ms(v float64) string  { return fmt.Sprintf("%.2fms", v) }

// Elapsed renders the wall-clock length of a run, rounded to minutes.
// Runs shorter than half a minute are shown in seconds.
func Elapsed(start, end time.Time) string {
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	if d < 30*time.Second {
		return fmt.Sprintf("%d seconds", int(d.Round(time.Second)/time.Second))
	}
	minutes := int(math.Round(d.Minutes()))
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// Document converts a report to its persisted shape. Rates with no checks behind them render as N/A.
func Document(r *models.MonitoringReport) *models.MonitoringReportDocument {
	doc := &models.MonitoringReportDocument{
		Title:     r.Title,
		BaseURL:   r.BaseURL,
		Duration:  Elapsed(r.StartTime, r.EndTime),
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Cancelled: r.Cancelled,
		Endpoints: make([]models.EndpointReportDocument, 0, len(r.Endpoints)),
		Alerts:    r.Alerts,
	}
	if doc.Alerts == nil {
		doc.Alerts = []models.Alert{}
	}

	var totalMs, maxMs float64
	for _, s := range r.Endpoints {
		doc.Summary.TotalChecks += s.Checks
		doc.Summary.TotalErrors += s.Errors
		totalMs += s.TotalResponseMs
		maxMs = math.Max(maxMs, s.MaxResponseMs)

		ep := models.EndpointReportDocument{
			Name:                s.Name,
			Path:                s.Path,
			Checks:              s.Checks,
			Errors:              s.Errors,
			Availability:        "N/A",
			ErrorRate:           "N/A",
			AverageResponseTime: "N/A",
			MaxResponseTime:     "N/A",
			MinResponseTime:     "N/A",
		}
		if s.Checks > 0 {
			ep.Availability = pct(s.AvailabilityPct)
			ep.ErrorRate = pct(s.ErrorPct)
			ep.AverageResponseTime = ms(s.AvgResponseMs)
			ep.MaxResponseTime = ms(s.MaxResponseMs)
			ep.MinResponseTime = ms(s.MinResponseMs)
		}
		doc.Endpoints = append(doc.Endpoints, ep)
	}

	sum := &doc.Summary
	if sum.TotalChecks == 0 {
		sum.Availability, sum.ErrorRate, sum.AverageResponseTime, sum.MaxResponseTime = "N/A", "N/A", "N/A", "N/A"
		return doc
	}
	checks := float64(sum.TotalChecks)
	sum.Availability = pct(float64(sum.TotalChecks-sum.TotalErrors) / checks * 100)
	sum.ErrorRate = pct(float64(sum.TotalErrors) / checks * 100)
	sum.AverageResponseTime = ms(totalMs / checks)
	sum.MaxResponseTime = ms(maxMs)
	return doc
}

// ReportBaseName is monitoring-report-<start timestamp> with ':' replaced by '-'
func ReportBaseName(r *models.MonitoringReport) string {
	ts := r.StartTime.UTC().Format("2006-01-02T15:04:05.000Z")
	return "monitoring-report-" + strings.ReplaceAll(ts, ":", "-")
}

// WriteReport persists the JSON document and its markdown rendering under dir.
// It returns the JSON path.
func WriteReport(dir string, r *models.MonitoringReport, renderer *template.Renderer) (string, error) {
	if dir == "" {
		dir = DEFAULT_REPORT_DIR
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	doc := Document(r)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode monitoring report: %w", err)
	}
	base := filepath.Join(dir, ReportBaseName(r))
	jsonPath := base + ".json"
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write monitoring report: %w", err)
	}

	if renderer != nil {
		md, err := renderer.RenderNamed(template.MONITORING_REPORT_TEMPLATE, doc)
		if err != nil {
			logger.WithError(err).Warn("Failed to render markdown report")
		} else if err := os.WriteFile(base+".md", []byte(md), 0o644); err != nil {
			logger.WithError(err).Warn("Failed to write markdown report")
		}
	}

	logger.WithField("path", jsonPath).Info("Monitoring report written")
	return jsonPath, nil
}

// PrintSummary writes the operator-facing summary lines
func PrintSummary(doc *models.MonitoringReportDocument) {
	fmt.Printf("\n📊 %s\n", doc.Title)
	fmt.Printf("   Duration: %s\n", doc.Duration)
	fmt.Printf("   Checks: %d, errors: %d\n", doc.Summary.TotalChecks, doc.Summary.TotalErrors)
	fmt.Printf("   Availability: %s, error rate: %s\n", doc.Summary.Availability, doc.Summary.ErrorRate)
	fmt.Printf("   Response time avg: %s, max: %s\n", doc.Summary.AverageResponseTime, doc.Summary.MaxResponseTime)
	for _, ep := range doc.Endpoints {
		fmt.Printf("   - %s (%s): %s available, avg %s\n", ep.Name, ep.Path, ep.Availability, ep.AverageResponseTime)
	}
	if len(doc.Alerts) > 0 {
		fmt.Printf("🚨 %d alert(s) raised\n", len(doc.Alerts))
	}
}

// ReadReports loads persisted report documents newest first. Unparseable files are skipped.
func ReadReports(dir string, limit int) ([]models.MonitoringReportDocument, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read report directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "monitoring-report-") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	// timestamped names sort chronologically
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var docs []models.MonitoringReportDocument
	for _, name := range names {
		if limit > 0 && len(docs) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.WithError(err).WithField("file", name).Warn("Skipping unreadable report")
			continue
		}
		var doc models.MonitoringReportDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			logger.WithError(err).WithField("file", name).Warn("Skipping malformed report")
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
