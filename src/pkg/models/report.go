package models

import "time"

// EndpointTarget is one path checked by the monitoring loop
type EndpointTarget struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
}

// EndpointStats accumulates per-endpoint monitoring numbers
type EndpointStats struct {
	Name            string
	Path            string
	Checks          int
	Errors          int
	TotalResponseMs float64
	MaxResponseMs   float64
	MinResponseMs   float64
	// derived after every cycle
	AvailabilityPct float64
	ErrorPct        float64
	AvgResponseMs   float64
}

// Alert is raised the moment a threshold is crossed
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Endpoint  string    `json:"endpoint"`
	Message   string    `json:"message"`
}

// MonitoringReport is the in-memory result of a monitoring run
type MonitoringReport struct {
	Title           string
	BaseURL         string
	IntervalSeconds int
	StartTime       time.Time
	EndTime         time.Time
	CyclesPlanned   int
	CyclesRun       int
	Cancelled       bool
	Endpoints       []EndpointStats
	Alerts          []Alert
}

// MonitoringReportDocument is the persisted JSON shape of a monitoring report
type MonitoringReportDocument struct {
	Title     string                   `json:"title"`
	BaseURL   string                   `json:"baseUrl"`
	Duration  string                   `json:"duration"`
	StartTime time.Time                `json:"startTime"`
	EndTime   time.Time                `json:"endTime"`
	Cancelled bool                     `json:"cancelled"`
	Summary   MonitoringSummary        `json:"summary"`
	Endpoints []EndpointReportDocument `json:"endpoints"`
	Alerts    []Alert                  `json:"alerts"`
}

type MonitoringSummary struct {
	TotalChecks         int    `json:"totalChecks"`
	TotalErrors         int    `json:"totalErrors"`
	Availability        string `json:"availability"`
	AverageResponseTime string `json:"averageResponseTime"`
	MaxResponseTime     string `json:"maxResponseTime"`
	ErrorRate           string `json:"errorRate"`
}

type EndpointReportDocument struct {
	Name                string `json:"name"`
	Path                string `json:"path"`
	Checks              int    `json:"checks"`
	Errors              int    `json:"errors"`
	Availability        string `json:"availability"`
	ErrorRate           string `json:"errorRate"`
	AverageResponseTime string `json:"averageResponseTime"`
	MaxResponseTime     string `json:"maxResponseTime"`
	MinResponseTime     string `json:"minResponseTime"`
}
