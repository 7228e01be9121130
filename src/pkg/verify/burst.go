package verify

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"golang.org/x/sync/errgroup"
)

// MAX_BURST_FANOUT caps concurrent requests of one burst
const MAX_BURST_FANOUT = 10

// Burst fires n GETs at one path with bounded concurrency and waits for all of them
func (v *HTTPVerifier) Burst(ctx context.Context, baseURL, path string, n int) *models.BurstResult {
	result := &models.BurstResult{Path: path, Requests: n}
	if n <= 0 {
		return result
	}
	url := strings.TrimRight(baseURL, "/") + path

	var mu sync.Mutex
	durations := make([]float64, 0, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MAX_BURST_FANOUT)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			resp, err := v.do(gctx, http.MethodGet, url)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || resp.status >= 400 {
				result.Errors++
				return nil
			}
			durations = append(durations, ms(resp.duration))
			return nil
		})
	}
	// workers never return errors; every request is counted
	_ = g.Wait()

	if len(durations) == 0 {
		return result
	}
	result.MinResponseMs = math.MaxFloat64
	total := 0.0
	for _, d := range durations {
		total += d
		result.MinResponseMs = math.Min(result.MinResponseMs, d)
		result.MaxResponseMs = math.Max(result.MaxResponseMs, d)
	}
	result.AvgResponseMs = total / float64(len(durations))
	logger.WithField("path", path).WithField("requests", n).WithField("errors", result.Errors).Info("Burst finished")
	return result
}
