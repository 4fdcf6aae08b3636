package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/kalambet/helpdesk/internal/proxy"
	"github.com/kalambet/helpdesk/internal/registry"
)

func TestModels_ConnectRedactsKey(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/models/gemini/connect", `{"apiKey":"sk-gemini-secret-1234"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("connect: status = %d, body = %s", w.Code, w.Body.String())
	}
	it := decode[registry.Integration](t, w)
	if !it.IsConnected || it.APIKey == nil {
		t.Fatalf("integration = %+v", it)
	}
	if strings.Contains(*it.APIKey, "secret") {
		t.Errorf("api key leaked: %q", *it.APIKey)
	}

	w = f.do(t, "GET", "/models", "")
	resp := decode[ModelsResponse](t, w)
	if resp.ActiveID != "gemini" {
		t.Errorf("activeId = %q, want gemini", resp.ActiveID)
	}
	if len(resp.Integrations) != 4 {
		t.Errorf("got %d integrations, want 4", len(resp.Integrations))
	}
	for _, it := range resp.Integrations {
		if it.APIKey != nil && strings.Contains(*it.APIKey, "secret") {
			t.Errorf("%s: api key leaked in list", it.ID)
		}
	}
}

func TestModels_Errors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name, method, url, body string
		want                     int
	}{
		{"blank key", "POST", "/models/gemini/connect", `{"apiKey":"  "}`, http.StatusBadRequest},
		{"unknown connect", "POST", "/models/nope/connect", `{"apiKey":"k"}`, http.StatusNotFound},
		{"unknown disconnect", "POST", "/models/nope/disconnect", "", http.StatusNotFound},
		{"activate disconnected", "PUT", "/models/active", `{"id":"claude"}`, http.StatusBadRequest},
		{"custom without model", "POST", "/models", `{"name":"Local"}`, http.StatusBadRequest},
		{"catalog disconnected", "GET", "/models/claude/catalog", "", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, tt.method, tt.url, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestModels_DisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/models/claude/connect", `{"apiKey":"k-claude"}`)

	for i := range 2 {
		w := f.do(t, "POST", "/models/claude/disconnect", "")
		if w.Code != http.StatusOK {
			t.Fatalf("disconnect %d: status = %d", i, w.Code)
		}
		if it := decode[registry.Integration](t, w); it.IsConnected || it.APIKey != nil {
			t.Errorf("disconnect %d: integration = %+v", i, it)
		}
	}
	if id := f.deps.Models.ActiveID(); id != "" {
		t.Errorf("activeId = %q, want none", id)
	}
}

func TestModels_AddCustomAndActivate(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/models", `{"name":"Mistral","description":"EU hosted","model":"mistralai/mistral-large","isConnected":true,"apiKey":"ignored"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: status = %d", w.Code)
	}
	it := decode[registry.Integration](t, w)
	if it.ID == "" || it.IsConnected || it.APIKey != nil {
		t.Fatalf("custom integration = %+v, want new and disconnected", it)
	}

	f.do(t, "POST", "/models/openrouter/connect", `{"apiKey":"k1"}`)
	f.do(t, "POST", "/models/"+it.ID+"/connect", `{"apiKey":"k2"}`)
	w = f.do(t, "PUT", "/models/active", `{"id":"`+it.ID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set active: status = %d, body = %s", w.Code, w.Body.String())
	}
	if f.deps.Models.ActiveID() != it.ID {
		t.Errorf("activeId = %q, want %q", f.deps.Models.ActiveID(), it.ID)
	}
}

func TestModels_Catalog(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/models/openrouter/connect", `{"apiKey":"k-or"}`)

	w := f.do(t, "GET", "/models/openrouter/catalog", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	models := decode[[]proxy.Model](t, w)
	if len(models) != 2 || models[1].ID != "key:k-or" {
		t.Errorf("models = %+v, want catalog listed with the integration key", models)
	}
}

func TestModels_CatalogUnavailable(t *testing.T) {
	f := newFixture(t)
	f.deps.Catalog = nil
	h := NewHandler(f.deps)
	f.handler = h
	f.do(t, "POST", "/models/openrouter/connect", `{"apiKey":"k-or"}`)
	if w := f.do(t, "GET", "/models/openrouter/catalog", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", w.Code)
	}
}
