package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/helpdesk/internal/knowledge"
	"github.com/kalambet/helpdesk/internal/retrieval"
)

func TestDocuments_ListSeeded(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/documents", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	docs := decode[[]knowledge.Document](t, w)
	if len(docs) != 4 {
		t.Fatalf("got %d docs, want 4 seeded", len(docs))
	}
}

func TestDocuments_CRUD(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/documents", `{"title":"Shipping","content":"We ship worldwide."}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: status = %d, body = %s", w.Code, w.Body.String())
	}
	doc := decode[knowledge.Document](t, w)
	if doc.ID == "" || doc.Source != knowledge.SourceInternal {
		t.Fatalf("added doc = %+v", doc)
	}

	w = f.do(t, "PUT", "/documents/"+doc.ID, `{"title":"Shipping","content":"We ship to 40 countries."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d", w.Code)
	}
	if got := decode[knowledge.Document](t, w); got.Content != "We ship to 40 countries." {
		t.Errorf("updated content = %q", got.Content)
	}

	w = f.do(t, "GET", "/documents/"+doc.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}

	if w := f.do(t, "DELETE", "/documents/"+doc.ID, ""); w.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", w.Code)
	}
	if w := f.do(t, "DELETE", "/documents/"+doc.ID, ""); w.Code != http.StatusOK {
		t.Errorf("second delete: status = %d, want 200", w.Code)
	}
	if w := f.do(t, "GET", "/documents/"+doc.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", w.Code)
	}
}

func TestDocuments_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name, method, url, body string
		want                     int
	}{
		{"empty title", "POST", "/documents", `{"title":"","content":"x"}`, http.StatusBadRequest},
		{"bad source", "POST", "/documents", `{"title":"t","content":"x","source":"fax"}`, http.StatusBadRequest},
		{"malformed json", "POST", "/documents", `{`, http.StatusBadRequest},
		{"update unknown", "PUT", "/documents/nope", `{"title":"t","content":"x"}`, http.StatusNotFound},
		{"search without q", "GET", "/documents/search", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, tt.method, tt.url, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestDocuments_Search(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/documents/search?q=refund+policy&limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	ranked := decode[[]retrieval.ScoredDocument](t, w)
	if len(ranked) == 0 || ranked[0].Document.Title != "Refund Policy Q3 2025" {
		t.Errorf("ranked = %+v, want refund policy first", ranked)
	}
	if len(ranked) > 2 {
		t.Errorf("got %d results, want at most 2", len(ranked))
	}
}

func TestDocuments_ImportURL(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Shipping FAQ</title></head><body><p>We ship worldwide.</p></body></html>`)
	}))
	defer page.Close()

	f := newFixture(t)
	w := f.do(t, "POST", "/documents/import", fmt.Sprintf(`{"url":%q}`, page.URL))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	doc := decode[knowledge.Document](t, w)
	if doc.Title != "Shipping FAQ" || doc.Source != knowledge.SourceWebPage || doc.Content != "We ship worldwide." {
		t.Errorf("doc = %+v", doc)
	}
}

func TestDocuments_ImportFile(t *testing.T) {
	f := newFixture(t)
	content := base64.StdEncoding.EncodeToString([]byte("Returns are free for 30 days."))
	w := f.do(t, "POST", "/documents/import", fmt.Sprintf(`{"filename":"returns.txt","content":%q}`, content))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	doc := decode[knowledge.Document](t, w)
	if doc.Title != "returns" || doc.Source != knowledge.SourceUploadedFile {
		t.Errorf("doc = %+v", doc)
	}

	if w := f.do(t, "POST", "/documents/import", `{"filename":"x.txt","content":"!!!"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad base64: status = %d, want 400", w.Code)
	}
	if w := f.do(t, "POST", "/documents/import", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty request: status = %d, want 400", w.Code)
	}
}

func TestDocuments_ImportBatch(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Shipping FAQ</title></head><body><p>We ship worldwide.</p></body></html>`)
	}))
	defer page.Close()

	f := newFixture(t)
	before := len(f.deps.Knowledge.List())
	content := base64.StdEncoding.EncodeToString([]byte("Returns are free for 30 days."))
	body := fmt.Sprintf(`{"items":[{"url":%q},{"filename":"returns.txt","content":%q}]}`, page.URL+"/faq", content)

	w := f.do(t, "POST", "/documents/import/batch", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	docs := decode[[]knowledge.Document](t, w)
	if len(docs) != 2 || docs[0].Title != "Shipping FAQ" || docs[1].Title != "returns" {
		t.Fatalf("docs = %+v", docs)
	}

	failing := fmt.Sprintf(`{"items":[{"filename":"returns.txt","content":%q},{"url":%q}]}`, content, page.URL+"/gone")
	if w := f.do(t, "POST", "/documents/import/batch", failing); w.Code != http.StatusBadGateway {
		t.Errorf("unreachable page: status = %d, want 502", w.Code)
	}
	if got := len(f.deps.Knowledge.List()); got != before+2 {
		t.Errorf("List() len = %d, want %d", got, before+2)
	}

	if w := f.do(t, "POST", "/documents/import/batch", `{"items":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty batch: status = %d, want 400", w.Code)
	}
	if w := f.do(t, "POST", "/documents/import/batch", `{"items":[{}]}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty item: status = %d, want 400", w.Code)
	}
}

func TestDocuments_YAMLRoundTrip(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/documents/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export: status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q", ct)
	}
	exported := w.Body.String()
	if !strings.Contains(exported, "Refund Policy Q3 2025") {
		t.Fatalf("export missing seeded doc:\n%s", exported)
	}

	w = f.do(t, "POST", "/documents/yaml", exported)
	if w.Code != http.StatusCreated {
		t.Fatalf("import: status = %d, body = %s", w.Code, w.Body.String())
	}
	if added := decode[[]knowledge.Document](t, w); len(added) != 4 {
		t.Errorf("imported %d docs, want 4", len(added))
	}
	if docs := f.deps.Knowledge.List(); len(docs) != 8 {
		t.Errorf("knowledge has %d docs, want 8", len(docs))
	}

	if w := f.do(t, "POST", "/documents/yaml", "title: [unclosed"); w.Code != http.StatusBadRequest {
		t.Errorf("malformed yaml: status = %d, want 400", w.Code)
	}
}
