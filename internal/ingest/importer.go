// Package ingest turns web pages and uploaded files into knowledge-base
// document candidates.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/helpdesk/internal/knowledge"
)

const (
	maxURLFetchSize = 5 << 20 // 5MB
	maxFileSize     = 10 << 20
	fetchTimeout    = 10 * time.Second
	importLimit     = 4
)

var (
	// ErrEmpty is returned when a source yields no text.
	ErrEmpty = errors.New("no text content found")
	// ErrFetch wraps failures to retrieve a URL.
	ErrFetch = errors.New("fetch failed")
)

// Adder stores a batch of candidates all at once. Implemented by
// knowledge.Store.
type Adder interface {
	AddAll([]knowledge.Candidate) ([]knowledge.Document, error)
}

// Importer fetches and extracts document text.
type Importer struct {
	client *http.Client
	logger *slog.Logger
}

// NewImporter creates an Importer. A nil client uses a default client with
// a 10 second timeout.
func NewImporter(client *http.Client, logger *slog.Logger) *Importer {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{client: client, logger: logger.With("component", "ingest")}
}

// FromURL fetches a web page and returns its title and visible text as a
// web-page candidate. Non-HTML responses are taken as plain text.
func (im *Importer) FromURL(ctx context.Context, rawURL string) (knowledge.Candidate, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return knowledge.Candidate{}, fmt.Errorf("invalid url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return knowledge.Candidate{}, fmt.Errorf("creating request: %w", err)
	}
	resp, err := im.client.Do(req)
	if err != nil {
		return knowledge.Candidate{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return knowledge.Candidate{}, fmt.Errorf("%w: url returned status %d", ErrFetch, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return knowledge.Candidate{}, fmt.Errorf("%w: reading response: %w", ErrFetch, err)
	}

	title, text := "", ""
	if isHTML(resp.Header.Get("Content-Type"), body) {
		title, text, err = ExtractHTML(bytes.NewReader(body))
		if err != nil {
			return knowledge.Candidate{}, err
		}
	} else {
		text = strings.TrimSpace(string(body))
	}
	if text == "" {
		return knowledge.Candidate{}, fmt.Errorf("%s: %w", rawURL, ErrEmpty)
	}
	if title == "" {
		title = rawURL
	}
	im.logger.Info("imported url", "url", rawURL, "bytes", len(body))
	return knowledge.Candidate{Title: title, Content: text, Source: knowledge.SourceWebPage}, nil
}

// FromFile reads a local file as an uploaded-file candidate.
func (im *Importer) FromFile(path string) (knowledge.Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return knowledge.Candidate{}, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return knowledge.Candidate{}, fmt.Errorf("reading file: %w", err)
	}
	if len(data) > maxFileSize {
		return knowledge.Candidate{}, fmt.Errorf("%s exceeds %d bytes", path, maxFileSize)
	}
	return im.FromBytes(filepath.Base(path), data)
}

// FromBytes extracts an uploaded file's text by extension: PDF, HTML,
// Markdown, or UTF-8 text otherwise. The title is the file name without extension.
func (im *Importer) FromBytes(name string, data []byte) (knowledge.Candidate, error) {
	ext := strings.ToLower(filepath.Ext(name))
	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	var text string
	switch ext {
	case ".pdf":
		t, err := ExtractPDF(data)
		if err != nil {
			return knowledge.Candidate{}, err
		}
		text = t
	case ".html", ".htm":
		htmlTitle, t, err := ExtractHTML(bytes.NewReader(data))
		if err != nil {
			return knowledge.Candidate{}, err
		}
		if htmlTitle != "" {
			title = htmlTitle
		}
		text = t
	case ".md", ".markdown":
		mdTitle, t, err := ExtractMarkdown(data)
		if err != nil {
			return knowledge.Candidate{}, err
		}
		if mdTitle != "" {
			title = mdTitle
		}
		text = t
	default:
		if !utf8.Valid(data) {
			return knowledge.Candidate{}, fmt.Errorf("%s: unsupported binary file", name)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return knowledge.Candidate{}, fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	if title == "" {
		title = name
	}
	im.logger.Info("imported file", "name", name, "bytes", len(data))
	return knowledge.Candidate{Title: title, Content: text, Source: knowledge.SourceUploadedFile}, nil
}

// Ref names one source for ImportAll: a URL, a local path, or an
// in-memory file given by Name and Data.
type Ref struct {
	URL  string
	Path string
	Name string
	Data []byte
}

func (r Ref) String() string {
	switch {
	case r.URL != "":
		return r.URL
	case r.Path != "":
		return r.Path
	}
	return r.Name
}

// ImportAll extracts refs concurrently and adds the results to dst in ref
// order. Nothing is added if any ref fails.
func (im *Importer) ImportAll(ctx context.Context, refs []Ref, dst Adder) ([]knowledge.Document, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	candidates := make([]knowledge.Candidate, len(refs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(importLimit)

	for i, ref := range refs {
		g.Go(func() error {
			var c knowledge.Candidate
			var err error
			switch {
			case ref.URL != "":
				c, err = im.FromURL(gCtx, ref.URL)
			case ref.Path != "":
				c, err = im.FromFile(ref.Path)
			case ref.Name != "" && len(ref.Data) > 0:
				c, err = im.FromBytes(ref.Name, ref.Data)
			default:
				err = errors.New("empty reference")
			}
			if err != nil {
				return fmt.Errorf("importing %s: %w", ref, err)
			}
			candidates[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dst.AddAll(candidates)
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	if contentType == "" {
		return strings.Contains(http.DetectContentType(body), "html")
	}
	return false
}
