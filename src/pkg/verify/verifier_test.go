package verify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storefront struct {
	selectBroken bool
	listing      string
	pageStatus   map[string]int
	pageBody     map[string]string
	emptyAPI     map[string]bool
	selected     atomic.Value
}

func newStorefront() *storefront {
	return &storefront{pageStatus: map[string]int{}, pageBody: map[string]string{}, emptyAPI: map[string]bool{}}
}

func (s *storefront) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/select") && r.Method == http.MethodPost {
			if !s.selectBroken {
				s.selected.Store(strings.Split(r.URL.Path, "/")[3])
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if s.emptyAPI[r.URL.Path] {
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if code, ok := s.pageStatus[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		if body, ok := s.pageBody[r.URL.Path]; ok {
			fmt.Fprint(w, body)
			return
		}
		if r.URL.Path == "/designs" {
			sel, _ := s.selected.Load().(string)
			if q := r.URL.Query().Get("selected"); q != "" && q == sel {
				fmt.Fprintf(w, `<div class="design-card" data-design-id="%s">Selected</div>`, q)
				return
			}
			if s.listing != "" {
				fmt.Fprint(w, s.listing)
				return
			}
			fmt.Fprint(w, `<div class="design-card" data-design-id="d-42"><button>Select</button></div><div class="design-card" data-design-id="d-43"></div>`)
			return
		}
		fmt.Fprint(w, "<html><body>ok</body></html>")
	})
	return mux
}

func TestVerifyAllPass(t *testing.T) {
	srv := httptest.NewServer(newStorefront().handler())
	defer srv.Close()

	result := NewHTTPVerifier(srv.Client()).Verify(context.Background(), srv.URL+"/", DefaultChecklist())

	assert.True(t, result.Passed)
	assert.Len(t, result.Checks, 1+5+3+1)
	assert.Empty(t, result.Failures())
	assert.Equal(t, "root", result.Checks[0].Name)
	assert.Equal(t, "functional:select-first-item", result.Checks[len(result.Checks)-1].Name)
}

func TestVerifyFunctionalFailureIsTheOnlyFailure(t *testing.T) {
	sf := newStorefront()
	sf.selectBroken = true
	srv := httptest.NewServer(sf.handler())
	defer srv.Close()

	result := NewHTTPVerifier(srv.Client()).Verify(context.Background(), srv.URL, DefaultChecklist())

	assert.False(t, result.Passed)
	failures := result.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "functional:select-first-item", failures[0].Name)
	assert.Contains(t, failures[0].Detail, "d-42")
	assert.Len(t, result.Checks, 10)
}

func TestVerifyFunctionalItemIDIsEscaped(t *testing.T) {
	s := newStorefront()
	s.listing = `<ul><li class="empty"></li><li class='design-card' DATA-DESIGN-ID='spring sale&amp;co'>Spring</li></ul>`
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	result := NewHTTPVerifier(nil).Verify(context.Background(), srv.URL, DefaultChecklist())

	require.True(t, result.Passed, "failures: %+v", result.Failures())
	assert.Equal(t, "spring sale&co", s.selected.Load())
}

func TestFunctionalScenarioPath(t *testing.T) {
	f := DefaultChecklist().Functional
	tests := []struct {
		name string
		tmpl string
		id   string
		want string
	}{
		{name: "plain id", tmpl: f.SelectPath, id: "d-42", want: "/api/designs/d-42/select"},
		{name: "path segment", tmpl: f.SelectPath, id: "a b/c?", want: "/api/designs/a%20b%2Fc%3F/select"},
		{name: "query value", tmpl: f.ConfirmPath, id: "a b&c=d", want: "/designs?selected=a+b%26c%3Dd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.path(tt.tmpl, tt.id))
		})
	}
}

func TestFirstAttribute(t *testing.T) {
	id, ok := firstAttribute(`<div data-design-id=""></div><img data-design-id="d-7"/>`, "data-design-id")
	assert.True(t, ok)
	assert.Equal(t, "d-7", id)

	_, ok = firstAttribute(`<p>no designs yet</p>`, "data-design-id")
	assert.False(t, ok)
}

func TestVerifyCollectsEveryFailure(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(sf *storefront)
		wantFailing []string
	}{
		{
			name:        "page status",
			setup:       func(sf *storefront) { sf.pageStatus["/about"] = http.StatusNotFound },
			wantFailing: []string{"page:/about"},
		},
		{
			name:        "error marker",
			setup:       func(sf *storefront) { sf.pageBody["/contact"] = `<div role="alert">boom</div>` },
			wantFailing: []string{"page:/contact"},
		},
		{
			name:        "empty api body",
			setup:       func(sf *storefront) { sf.emptyAPI["/api/health"] = true },
			wantFailing: []string{"api:/api/health"},
		},
		{
			name: "root and listing down",
			setup: func(sf *storefront) {
				sf.pageStatus["/"] = http.StatusBadGateway
				sf.pageStatus["/designs"] = http.StatusBadGateway
			},
			wantFailing: []string{"root", "page:/designs", "functional:select-first-item"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf := newStorefront()
			tt.setup(sf)
			srv := httptest.NewServer(sf.handler())
			defer srv.Close()

			result := NewHTTPVerifier(srv.Client()).Verify(context.Background(), srv.URL, DefaultChecklist())

			assert.False(t, result.Passed)
			var names []string
			for _, c := range result.Failures() {
				names = append(names, c.Name)
			}
			assert.Equal(t, tt.wantFailing, names)
			assert.Len(t, result.Checks, 10)
		})
	}
}

func TestVerifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	result := NewHTTPVerifier(nil).Verify(context.Background(), url, Checklist{RootPath: "/", APIEndpoints: []string{"/api/health"}})
	assert.False(t, result.Passed)
	assert.Len(t, result.Failures(), 2)
}

func TestChecklistWithDefaults(t *testing.T) {
	c := Checklist{CriticalPages: []string{}}.WithDefaults()
	assert.Empty(t, c.CriticalPages)
	assert.Equal(t, "/", c.RootPath)
	assert.Len(t, c.APIEndpoints, 3)
	require.NotNil(t, c.Functional)
}

func TestBurst(t *testing.T) {
	var inflight, peak, calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inflight, 1)
		defer atomic.AddInt32(&inflight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		if atomic.AddInt32(&calls, 1)%5 == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	result := NewHTTPVerifier(srv.Client()).Burst(context.Background(), srv.URL, "/api/health", 25)

	assert.Equal(t, 25, result.Requests)
	assert.Equal(t, 5, result.Errors)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(MAX_BURST_FANOUT))
	assert.LessOrEqual(t, result.MinResponseMs, result.AvgResponseMs)
	assert.LessOrEqual(t, result.AvgResponseMs, result.MaxResponseMs)
}
