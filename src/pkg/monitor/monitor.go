package monitor

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/poll"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "monitor")

const (
	DEFAULT_DURATION_MINUTES = 60
	DEFAULT_INTERVAL_SECONDS = 30
	DEFAULT_ERROR_THRESHOLD  = 5.0
	DEFAULT_MAX_RESPONSE_MS  = 1000.0
	DEFAULT_REQUEST_TIMEOUT  = 10 * time.Second
)

// DefaultEndpoints are checked when none are configured
var DefaultEndpoints = []models.EndpointTarget{
	{Name: "Home Page", Path: "/"},
	{Name: "Designs Page", Path: "/designs"},
	{Name: "Publish Page", Path: "/publish"},
	{Name: "Health API", Path: "/api/health"},
	{Name: "Trending Designs API", Path: "/api/designs/trending"},
}

// Options configures one monitoring run
type Options struct {
	BaseURL           string
	Endpoints         []models.EndpointTarget
	Duration          time.Duration
	Interval          time.Duration
	ErrorThresholdPct float64
	MaxResponseMs     float64
}

// Cycles is floor(duration / interval)
func (o Options) Cycles() int {
	if o.Interval <= 0 {
		return 0
	}
	return int(o.Duration / o.Interval)
}

func (o Options) Validate() error {
	if o.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if o.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if o.Cycles() < 1 {
		return fmt.Errorf("duration %s is shorter than one interval of %s", o.Duration, o.Interval)
	}
	if len(o.Endpoints) == 0 {
		return fmt.Errorf("no endpoints to monitor")
	}
	return nil
}

// Monitor repeats health checks on a fixed schedule
type Monitor struct {
	client   *http.Client
	notifier Notifier
	metrics  *Metrics
	now      func() time.Time
	sleep    poll.Sleeper
}

// NewMonitor creates a new monitor; nil client gets the 10s per-request timeout
func NewMonitor(client *http.Client, notifier Notifier, metrics *Metrics) *Monitor {
	if client == nil {
		client = &http.Client{Timeout: DEFAULT_REQUEST_TIMEOUT}
	}
	if notifier == nil {
		notifier = &LogNotifier{}
	}
	return &Monitor{client: client, notifier: notifier, metrics: metrics, now: time.Now, sleep: poll.ContextSleep}
}

// Run checks every endpoint once per cycle until the duration elapses or ctx is cancelled.
// A report is returned in both cases.
func (m *Monitor) Run(ctx context.Context, opts Options) (*models.MonitoringReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")

	report := &models.MonitoringReport{
		Title:           "Deployment Monitoring Report - " + baseURL,
		BaseURL:         baseURL,
		IntervalSeconds: int(opts.Interval / time.Second),
		StartTime:       m.now(),
		CyclesPlanned:   opts.Cycles(),
	}
	stats := make([]*models.EndpointStats, len(opts.Endpoints))
	for i, ep := range opts.Endpoints {
		stats[i] = &models.EndpointStats{Name: ep.Name, Path: ep.Path, MinResponseMs: math.Inf(1)}
	}

	fmt.Printf("📡 Monitoring %s for %s, checking every %s (%d cycles)\n", baseURL, opts.Duration, opts.Interval, report.CyclesPlanned)

	for cycle := 0; cycle < report.CyclesPlanned; cycle++ {
		if cycle > 0 {
			// cycles start on a fixed schedule relative to the run start
			next := report.StartTime.Add(time.Duration(cycle) * opts.Interval)
			if err := m.sleep(ctx, next.Sub(m.now())); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		for i, ep := range opts.Endpoints {
			m.check(ctx, baseURL, ep, stats[i], opts, report)
		}
		report.CyclesRun++
		logger.WithField("cycle", report.CyclesRun).WithField("of", report.CyclesPlanned).Debug("Monitoring cycle completed")
	}

	report.Cancelled = report.CyclesRun < report.CyclesPlanned
	if report.Cancelled {
		fmt.Printf("⚠️  Monitoring interrupted after %d/%d cycles\n", report.CyclesRun, report.CyclesPlanned)
	}
	report.EndTime = m.now()
	report.Endpoints = make([]models.EndpointStats, len(stats))
	for i, s := range stats {
		report.Endpoints[i] = *s
	}
	return report, nil
}

type sample struct {
	ok         bool
	responseMs float64
	detail     string
}

func (m *Monitor) get(ctx context.Context, url string) sample {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return sample{detail: err.Error()}
	}
	start := m.now()
	resp, err := m.client.Do(req)
	elapsed := float64(m.now().Sub(start).Microseconds()) / 1000.0
	if err != nil {
		return sample{responseMs: elapsed, detail: err.Error()}
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return sample{responseMs: elapsed, detail: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}
	return sample{ok: true, responseMs: elapsed}
}

func (m *Monitor) check(ctx context.Context, baseURL string, ep models.EndpointTarget, s *models.EndpointStats, opts Options, report *models.MonitoringReport) {
	p := m.get(ctx, baseURL+ep.Path)
	Record(s, p.ok, p.responseMs)
	m.metrics.Observe(ep, p.ok, p.responseMs, s.AvailabilityPct)

	entry := logger.WithField("endpoint", ep.Name).WithField("responseMs", p.responseMs)
	if !p.ok {
		entry.WithField("detail", p.detail).Warn("Check failed")
	} else {
		entry.Debug("Check passed")
	}

	if s.ErrorPct > opts.ErrorThresholdPct {
		m.alert(ctx, report, ep, "High Error Rate - "+ep.Name,
			fmt.Sprintf("Error rate for %s is %.2f%% (threshold: %g%%)", ep.Name, s.ErrorPct, opts.ErrorThresholdPct))
	}
	if p.ok && p.responseMs > opts.MaxResponseMs {
		m.alert(ctx, report, ep, "Slow Response - "+ep.Name,
			fmt.Sprintf("Slow response time for %s: %.2fms (threshold: %gms)", ep.Name, p.responseMs, opts.MaxResponseMs))
	}
}

// alert appends immediately; delivery failures never stop monitoring
func (m *Monitor) alert(ctx context.Context, report *models.MonitoringReport, ep models.EndpointTarget, subject, message string) {
	a := models.Alert{Timestamp: m.now(), Endpoint: ep.Path, Message: message}
	report.Alerts = append(report.Alerts, a)
	m.metrics.Alert(ep)
	fmt.Printf("🚨 %s\n", message)
	if err := m.notifier.Notify(ctx, subject, fmt.Sprintf("%s\n\nEndpoint: %s\nTime: %s", message, a.Endpoint, a.Timestamp.UTC().Format(time.RFC3339))); err != nil {
		logger.WithError(err).WithField("endpoint", ep.Path).Warn("Alert delivery failed")
	}
}

// Record folds one sample into the running stats and re-derives the rates
func Record(s *models.EndpointStats, ok bool, responseMs float64) {
	s.Checks++
	if !ok {
		s.Errors++
	}
	s.TotalResponseMs += responseMs
	s.MaxResponseMs = math.Max(s.MaxResponseMs, responseMs)
	s.MinResponseMs = math.Min(s.MinResponseMs, responseMs)
	s.AvgResponseMs = s.TotalResponseMs / float64(s.Checks)
	s.AvailabilityPct = float64(s.Checks-s.Errors) / float64(s.Checks) * 100
	s.ErrorPct = float64(s.Errors) / float64(s.Checks) * 100
}
