package template

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

//go:embed templates/*.md.tmpl
var defaultTemplates embed.FS

const (
	MONITORING_REPORT_TEMPLATE = "monitoring-report.md.tmpl"
	DEPLOY_SUMMARY_TEMPLATE    = "deploy-summary.md.tmpl"
)

// Renderer handles template rendering
type Renderer struct {
	funcMap template.FuncMap
	// overrideDir, when set, is searched before the embedded templates
	overrideDir string
}

// NewRenderer creates a new template renderer
func NewRenderer() *Renderer {
	return &Renderer{
		funcMap: template.FuncMap{
			"gt":    func(a, b int) bool { return a > b },
			"upper": strings.ToUpper,
			"ts":    func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05 UTC") },
			"mark": func(ok bool) string {
				if ok {
					return "✅"
				}
				return "❌"
			},
		},
	}
}

// WithTemplateDir makes files in dir take precedence over the built-in templates
func (r *Renderer) WithTemplateDir(dir string) *Renderer {
	r.overrideDir = dir
	return r
}

// RenderNamed renders one of the known templates by file name
func (r *Renderer) RenderNamed(name string, data interface{}) (string, error) {
	content, err := r.load(name)
	if err != nil {
		return "", err
	}
	return r.RenderString(content, data)
}

func (r *Renderer) load(name string) (string, error) {
	if r.overrideDir != "" {
		path := filepath.Join(r.overrideDir, name)
		content, err := os.ReadFile(path)
		if err == nil {
			return string(content), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read template %s: %w", path, err)
		}
	}
	content, err := defaultTemplates.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("template not found: %s", name)
	}
	return string(content), nil
}

// Render renders a template file with the provided data
func (r *Renderer) Render(templatePath string, data interface{}) (string, error) {
	content, err := os.ReadFile(templatePath)
	if err != nil {
		return "", fmt.Errorf("failed to read template: %w", err)
	}

	return r.RenderString(string(content), data)
}

// RenderString renders a template string with the provided data
func (r *Renderer) RenderString(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("template").Funcs(r.funcMap).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
