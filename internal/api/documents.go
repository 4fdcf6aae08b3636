package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/helpdesk/internal/ingest"
	"github.com/kalambet/helpdesk/internal/knowledge"
	"github.com/kalambet/helpdesk/internal/retrieval"
)

// ImportRequest names one external source for POST /documents/import: a
// URL, or a file name plus base64 content.
type ImportRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// BatchImportRequest is the body of POST /documents/import/batch. Either
// every item is added or none is.
type BatchImportRequest struct {
	Items []ImportRequest `json:"items"`
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Knowledge.List())
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Knowledge.Get(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleAddDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c knowledge.Candidate
		if !decodeBody(w, r, &c) {
			return
		}
		doc, err := deps.Knowledge.Add(c)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func handleUpdateDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c knowledge.Candidate
		if !decodeBody(w, r, &c) {
			return
		}
		doc, err := deps.Knowledge.Update(knowledge.Document{
			ID:      chi.URLParam(r, "id"),
			Title:   c.Title,
			Content: c.Content,
			Source:  c.Source,
		})
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Knowledge.Remove(chi.URLParam(r, "id")); err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleSearchDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 5, 50)
		writeJSON(w, http.StatusOK, retrieval.Rank(q, deps.Knowledge.List(), limit))
	}
}

func handleImportDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportRequest
		if !decodeLimited(w, r, &req, maxImportBodySize) {
			return
		}

		var (
			c   knowledge.Candidate
			err error
		)
		switch {
		case req.URL != "":
			c, err = deps.Importer.FromURL(r.Context(), req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to import url: %v", err)
				return
			}
		case req.Filename != "" && req.Content != "":
			data, decErr := base64.StdEncoding.DecodeString(req.Content)
			if decErr != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			c, err = deps.Importer.FromBytes(req.Filename, data)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to import file: %v", err)
				return
			}
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url or filename with content is required")
			return
		}

		doc, err := deps.Knowledge.Add(c)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func handleImportBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchImportRequest
		if !decodeLimited(w, r, &req, maxImportBodySize) {
			return
		}
		if len(req.Items) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "items is required")
			return
		}

		refs := make([]ingest.Ref, len(req.Items))
		for i, item := range req.Items {
			switch {
			case item.URL != "":
				refs[i] = ingest.Ref{URL: item.URL}
			case item.Filename != "" && item.Content != "":
				data, err := base64.StdEncoding.DecodeString(item.Content)
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "item %d: invalid base64 content", i)
					return
				}
				refs[i] = ingest.Ref{Name: item.Filename, Data: data}
			default:
				httpError(w, http.StatusBadRequest, "invalid_request_error", "item %d: url or filename with content is required", i)
				return
			}
		}

		docs, err := deps.Importer.ImportAll(r.Context(), refs, deps.Knowledge)
		switch {
		case err == nil:
		case errors.Is(err, ingest.ErrFetch):
			httpError(w, http.StatusBadGateway, "api_error", "failed to import: %v", err)
			return
		case docs != nil || errors.Is(err, knowledge.ErrValidation):
			// Extraction succeeded; the store rejected or failed to save.
			domainError(w, err)
			return
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to import: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, docs)
	}
}

func handleExportDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		if err := deps.Knowledge.ExportYAML(w); err != nil {
			deps.Logger.Warn("yaml export failed", "error", err)
		}
	}
}

func handleImportYAML(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()
		added, err := deps.Knowledge.ImportYAML(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
				return
			}
			domainError(w, err)
			return
		}
		if added == nil {
			added = []knowledge.Document{}
		}
		writeJSON(w, http.StatusCreated, added)
	}
}
