package verify

import (
	"net/url"
	"strings"
)

// Checklist lists what a verification run checks
type Checklist struct {
	RootPath      string              `yaml:"rootPath"`
	CriticalPages []string            `yaml:"criticalPages"`
	APIEndpoints  []string            `yaml:"apiEndpoints"`
	ErrorMarkers  []string            `yaml:"errorMarkers"`
	Functional    *FunctionalScenario `yaml:"functional"`
}

// FunctionalScenario loads a listing, selects its first item and expects the selection to show
type FunctionalScenario struct {
	Name string `yaml:"name"`
	// ListingPath is fetched first
	ListingPath string `yaml:"listingPath"`
	// ItemAttribute is read from the first listing element that carries it
	ItemAttribute string `yaml:"itemAttribute"`
	// SelectPath is POSTed with {id} substituted
	SelectPath string `yaml:"selectPath"`
	// ConfirmPath is fetched after selecting, {id} substituted
	ConfirmPath string `yaml:"confirmPath"`
	// SelectedMarker must appear in the confirm body
	SelectedMarker string `yaml:"selectedMarker"`
}

// path substitutes {id}, escaped for the URL part it lands in
func (f *FunctionalScenario) path(tmpl, id string) string {
	p, query, ok := strings.Cut(tmpl, "?")
	p = strings.ReplaceAll(p, "{id}", url.PathEscape(id))
	if !ok {
		return p
	}
	return p + "?" + strings.ReplaceAll(query, "{id}", url.QueryEscape(id))
}

// DefaultChecklist mirrors the storefront's critical paths
func DefaultChecklist() Checklist {
	return Checklist{
		RootPath:      "/",
		CriticalPages: []string{"/designs", "/publish", "/account", "/about", "/contact"},
		APIEndpoints:  []string{"/api/health", "/api/designs/trending", "/api/templates/categories"},
		ErrorMarkers:  []string{`class="error-message"`, `class="error"`, `role="alert"`},
		Functional: &FunctionalScenario{
			Name:           "select-first-item",
			ListingPath:    "/designs",
			ItemAttribute:  "data-design-id",
			SelectPath:     "/api/designs/{id}/select",
			ConfirmPath:    "/designs?selected={id}",
			SelectedMarker: "Selected",
		},
	}
}

// WithDefaults fills empty fields from DefaultChecklist
func (c Checklist) WithDefaults() Checklist {
	d := DefaultChecklist()
	if c.RootPath == "" {
		c.RootPath = d.RootPath
	}
	if c.CriticalPages == nil {
		c.CriticalPages = d.CriticalPages
	}
	if c.APIEndpoints == nil {
		c.APIEndpoints = d.APIEndpoints
	}
	if c.ErrorMarkers == nil {
		c.ErrorMarkers = d.ErrorMarkers
	}
	if c.Functional == nil {
		c.Functional = d.Functional
	}
	return c
}
