package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "verify")

const (
	DEFAULT_REQUEST_TIMEOUT = 10 * time.Second
	maxBodyBytes            = 2 << 20
)

// Verifier runs smoke checks against a base URL
type Verifier interface {
	// Verify runs every check of the checklist; failures never short-circuit
	Verify(ctx context.Context, baseURL string, checklist Checklist) *models.VerificationResult
}

// HTTPVerifier checks an environment over plain HTTP
type HTTPVerifier struct {
	client *http.Client
	now    func() time.Time
}

// Ensure HTTPVerifier implements Verifier
var _ Verifier = (*HTTPVerifier)(nil)

// NewHTTPVerifier creates a new verifier; a nil client gets a 10s timeout client
func NewHTTPVerifier(client *http.Client) *HTTPVerifier {
	if client == nil {
		client = &http.Client{Timeout: DEFAULT_REQUEST_TIMEOUT}
	}
	return &HTTPVerifier{client: client, now: time.Now}
}

func (v *HTTPVerifier) Verify(ctx context.Context, baseURL string, checklist Checklist) *models.VerificationResult {
	baseURL = strings.TrimRight(baseURL, "/")
	result := &models.VerificationResult{BaseURL: baseURL, StartedAt: v.now()}

	add := func(c models.Check) {
		result.Checks = append(result.Checks, c)
		entry := logger.WithField("check", c.Name).WithField("passed", c.Passed)
		if c.Passed {
			entry.Debug("Check finished")
		} else {
			entry.WithField("detail", c.Detail).Warn("Check failed")
		}
	}

	if checklist.RootPath != "" {
		add(v.checkPage(ctx, baseURL, "root", checklist.RootPath, nil))
	}
	for _, p := range checklist.CriticalPages {
		add(v.checkPage(ctx, baseURL, "page:"+p, p, checklist.ErrorMarkers))
	}
	for _, p := range checklist.APIEndpoints {
		add(v.checkAPI(ctx, baseURL, p))
	}
	if checklist.Functional != nil {
		add(v.checkFunctional(ctx, baseURL, checklist.Functional, checklist.ErrorMarkers))
	}

	result.FinishedAt = v.now()
	result.Passed = len(result.Checks) > 0 && len(result.Failures()) == 0
	return result
}

type response struct {
	status   int
	body     string
	duration time.Duration
}

func (v *HTTPVerifier) do(ctx context.Context, method, url string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "bluegreen-verifier")

	start := v.now()
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return &response{status: resp.StatusCode, body: string(body), duration: v.now().Sub(start)}, nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func (v *HTTPVerifier) checkPage(ctx context.Context, baseURL, name, path string, markers []string) models.Check {
	check := models.Check{Name: name}
	resp, err := v.do(ctx, http.MethodGet, baseURL+path)
	if err != nil {
		check.Detail = fmt.Sprintf("request failed: %v", err)
		return check
	}
	check.StatusCode = resp.status
	check.DurationMs = ms(resp.duration)
	if resp.status != http.StatusOK {
		check.Detail = fmt.Sprintf("expected HTTP 200, got %d", resp.status)
		return check
	}
	if marker := findMarker(resp.body, markers); marker != "" {
		check.Detail = fmt.Sprintf("page contains error marker %s", marker)
		return check
	}
	check.Passed = true
	check.Detail = "HTTP 200"
	return check
}

func (v *HTTPVerifier) checkAPI(ctx context.Context, baseURL, path string) models.Check {
	check := models.Check{Name: "api:" + path}
	resp, err := v.do(ctx, http.MethodGet, baseURL+path)
	if err != nil {
		check.Detail = fmt.Sprintf("request failed: %v", err)
		return check
	}
	check.StatusCode = resp.status
	check.DurationMs = ms(resp.duration)
	if resp.status != http.StatusOK {
		check.Detail = fmt.Sprintf("expected HTTP 200, got %d", resp.status)
		return check
	}
	if strings.TrimSpace(resp.body) == "" {
		check.Detail = "empty response body"
		return check
	}
	check.Passed = true
	check.Detail = fmt.Sprintf("HTTP 200, %d bytes", len(resp.body))
	return check
}

func (v *HTTPVerifier) checkFunctional(ctx context.Context, baseURL string, f *FunctionalScenario, markers []string) (check models.Check) {
	name := f.Name
	if name == "" {
		name = "scenario"
	}
	check.Name = "functional:" + name
	start := v.now()
	defer func() { check.DurationMs = ms(v.now().Sub(start)) }()

	listing, err := v.do(ctx, http.MethodGet, baseURL+f.ListingPath)
	if err != nil {
		check.Detail = fmt.Sprintf("listing request failed: %v", err)
		return check
	}
	if listing.status != http.StatusOK {
		check.StatusCode = listing.status
		check.Detail = fmt.Sprintf("listing returned HTTP %d", listing.status)
		return check
	}
	id, ok := firstAttribute(listing.body, f.ItemAttribute)
	if !ok {
		check.Detail = fmt.Sprintf("listing has no element with %s", f.ItemAttribute)
		return check
	}

	selected, err := v.do(ctx, http.MethodPost, baseURL+f.path(f.SelectPath, id))
	if err != nil {
		check.Detail = fmt.Sprintf("select request failed: %v", err)
		return check
	}
	if selected.status < 200 || selected.status > 299 {
		check.StatusCode = selected.status
		check.Detail = fmt.Sprintf("select of item %s returned HTTP %d", id, selected.status)
		return check
	}

	confirm, err := v.do(ctx, http.MethodGet, baseURL+f.path(f.ConfirmPath, id))
	if err != nil {
		check.Detail = fmt.Sprintf("confirm request failed: %v", err)
		return check
	}
	check.StatusCode = confirm.status
	if confirm.status != http.StatusOK {
		check.Detail = fmt.Sprintf("confirm page returned HTTP %d", confirm.status)
		return check
	}
	if marker := findMarker(confirm.body, markers); marker != "" {
		check.Detail = fmt.Sprintf("confirm page contains error marker %s", marker)
		return check
	}
	if !strings.Contains(confirm.body, f.SelectedMarker) {
		check.Detail = fmt.Sprintf("item %s did not show %q after selecting", id, f.SelectedMarker)
		return check
	}

	check.Passed = true
	check.Detail = fmt.Sprintf("item %s selected", id)
	return check
}

func findMarker(body string, markers []string) string {
	for _, m := range markers {
		if m != "" && strings.Contains(body, m) {
			return m
		}
	}
	return ""
}
