package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/deploylog"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Point is one value of a time series drawn from monitoring reports
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ReportAlert is an alert tagged with the start of the report that raised it
type ReportAlert struct {
	models.Alert
	ReportTime time.Time `json:"reportTime"`
}

// Summary is the /api/summary payload
type Summary struct {
	LatestReport     *models.MonitoringReportDocument `json:"latestReport"`
	LatestDeployment map[string]interface{}           `json:"latestDeployment"`
	LatestRollback   map[string]interface{}           `json:"latestRollback"`
	DeploymentCount  int                              `json:"deploymentCount"`
	RollbackCount    int                              `json:"rollbackCount"`
	SuccessRate      string                           `json:"successRate"`
	AvailabilityData []Point                          `json:"availabilityData"`
	ResponseTimeData []Point                          `json:"responseTimeData"`
	ErrorRateData    []Point                          `json:"errorRateData"`
	RecentAlerts     []ReportAlert                    `json:"recentAlerts"`
}

// parseMetric reads "99.50%" or "120.00ms"; N/A is not a number
func parseMetric(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.TrimSuffix(s, "%"), "ms")
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// Summarize builds the summary from entries and reports, both newest first
func Summarize(entries []models.LogEntry, reports []models.MonitoringReportDocument) *Summary {
	sum := &Summary{
		SuccessRate:      "N/A",
		AvailabilityData: []Point{},
		ResponseTimeData: []Point{},
		ErrorRateData:    []Point{},
		RecentAlerts:     []ReportAlert{},
	}

	succeeded := 0
	for _, e := range entries {
		switch e.Kind {
		case models.RECORD_KIND_DEPLOYMENT:
			sum.DeploymentCount++
			if e.Deployment.Success {
				succeeded++
			}
			if sum.LatestDeployment == nil {
				sum.LatestDeployment, _ = Flatten(e)
			}
		case models.RECORD_KIND_ROLLBACK:
			sum.RollbackCount++
			if sum.LatestRollback == nil {
				sum.LatestRollback, _ = Flatten(e)
			}
		}
	}
	if sum.DeploymentCount > 0 {
		sum.SuccessRate = fmt.Sprintf("%.2f%%", float64(succeeded)/float64(sum.DeploymentCount)*100)
	}

	if len(reports) > 0 {
		latest := reports[0]
		sum.LatestReport = &latest
	}
	// series read oldest first
	for i := len(reports) - 1; i >= 0; i-- {
		r := reports[i]
		if v, ok := parseMetric(r.Summary.Availability); ok {
			sum.AvailabilityData = append(sum.AvailabilityData, Point{r.StartTime, v})
		}
		if v, ok := parseMetric(r.Summary.AverageResponseTime); ok {
			sum.ResponseTimeData = append(sum.ResponseTimeData, Point{r.StartTime, v})
		}
		if v, ok := parseMetric(r.Summary.ErrorRate); ok {
			sum.ErrorRateData = append(sum.ErrorRateData, Point{r.StartTime, v})
		}
		for _, a := range r.Alerts {
			sum.RecentAlerts = append(sum.RecentAlerts, ReportAlert{Alert: a, ReportTime: r.StartTime})
		}
	}
	sort.SliceStable(sum.RecentAlerts, func(i, j int) bool {
		return sum.RecentAlerts[i].Timestamp.After(sum.RecentAlerts[j].Timestamp)
	})
	if len(sum.RecentAlerts) > RECENT_ALERTS {
		sum.RecentAlerts = sum.RecentAlerts[:RECENT_ALERTS]
	}
	return sum
}

// historyCollector exports record counts from the deployment log on every scrape
type historyCollector struct {
	store deploylog.Store
	desc  *prometheus.Desc
}

func newHistoryCollector(store deploylog.Store) *historyCollector {
	return &historyCollector{
		store: store,
		desc: prometheus.NewDesc("bluegreen_history_records",
			"Records in the deployment log by type, group and outcome.",
			[]string{"type", "group", "success"}, nil),
	}
}

func (c *historyCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *historyCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	entries, err := c.store.List(ctx, models.ListFilter{})
	if err != nil {
		logger.WithError(err).Warn("Failed to list deployment log for metrics")
		return
	}

	type key struct {
		kind, group string
		success     bool
	}
	counts := map[key]int{}
	for _, e := range entries {
		k := key{kind: string(e.Kind)}
		switch e.Kind {
		case models.RECORD_KIND_DEPLOYMENT:
			k.group, k.success = e.Deployment.Environment, e.Deployment.Success
		case models.RECORD_KIND_ROLLBACK:
			k.group, k.success = e.Rollback.Environment, e.Rollback.Success
		}
		counts[k]++
	}
	for k, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), k.kind, k.group, strconv.FormatBool(k.success))
	}
}
