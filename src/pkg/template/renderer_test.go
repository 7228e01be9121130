package template

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderString(t *testing.T) {
	r := NewRenderer()

	out, err := r.RenderString(`{{upper .Name}} {{mark .OK}} {{if gt .N 1}}many{{end}}`, map[string]interface{}{
		"Name": "blue", "OK": true, "N": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "BLUE ✅ many", out)

	_, err = r.RenderString(`{{.Missing`, nil)
	assert.Error(t, err)
}

func TestRenderNamedEmbedded(t *testing.T) {
	r := NewRenderer()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	out, err := r.RenderNamed(MONITORING_REPORT_TEMPLATE, map[string]interface{}{
		"Title":     "Deployment Monitoring Report - https://example.com",
		"Duration":  "5 minutes",
		"StartTime": ts,
		"EndTime":   ts.Add(5 * time.Minute),
		"Cancelled": false,
		"Summary": map[string]interface{}{
			"TotalChecks": 10, "TotalErrors": 0, "Availability": "100.00%",
			"ErrorRate": "0.00%", "AverageResponseTime": "12.00ms", "MaxResponseTime": "20.00ms",
		},
		"Endpoints": []map[string]interface{}{},
		"Alerts":    nil,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "# Deployment Monitoring Report - https://example.com")
	assert.Contains(t, out, "2024-03-01 12:00:00 UTC")
	assert.Contains(t, out, "No alerts raised")
}

func TestRenderNamedOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DEPLOY_SUMMARY_TEMPLATE), []byte("custom {{.Group}}"), 0o644))

	out, err := NewRenderer().WithTemplateDir(dir).RenderNamed(DEPLOY_SUMMARY_TEMPLATE, map[string]string{"Group": "staging"})
	require.NoError(t, err)
	assert.Equal(t, "custom staging", out)

	// missing override falls back to the embedded copy
	content, err := NewRenderer().WithTemplateDir(dir).load(MONITORING_REPORT_TEMPLATE)
	require.NoError(t, err)
	assert.Contains(t, content, "## Endpoints")
}

func TestRenderNamedUnknown(t *testing.T) {
	_, err := NewRenderer().RenderNamed("nope.md.tmpl", nil)
	assert.Error(t, err)
}
