// Package engine produces the assistant's next reply, either through the
// active remote model or, when none is usable, from the knowledge base by
// keyword scoring.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/helpdesk/internal/composer"
	"github.com/kalambet/helpdesk/internal/knowledge"
	"github.com/kalambet/helpdesk/internal/proxy"
	"github.com/kalambet/helpdesk/internal/registry"
	"github.com/kalambet/helpdesk/internal/retrieval"
)

// DefaultReply is returned when nothing better is available.
const DefaultReply = "I'm not sure how to answer that. Would you like me to search the web for an answer?"

// DefaultFallbackDelay is the pause before a fallback answer is returned.
const DefaultFallbackDelay = 500 * time.Millisecond

// ErrRemoteCallFailed wraps any transport, status or response-shape failure
// from the remote model.
var ErrRemoteCallFailed = errors.New("remote model call failed")

// Completer sends a single-turn prompt to a remote model.
// Implemented by proxy.Client.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Dialer returns a Completer authorized with apiKey.
type Dialer func(apiKey string) Completer

// ProxyDialer returns a Dialer backed by proxy.Client at baseURL.
func ProxyDialer(baseURL string, timeout time.Duration) Dialer {
	return func(apiKey string) Completer {
		return proxy.NewClientWithBaseURL(apiKey, baseURL).WithTimeout(timeout)
	}
}

// Options configures an Engine. Zero values select the defaults; a negative
// FallbackDelay disables the pause.
type Options struct {
	Dial          Dialer
	FallbackDelay time.Duration
	Logger        *slog.Logger
}

// Engine chooses between the remote and fallback strategies per request.
type Engine struct {
	dial   Dialer
	delay  time.Duration
	logger *slog.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Dial == nil {
		opts.Dial = ProxyDialer(proxy.DefaultBaseURL, 0)
	}
	switch {
	case opts.FallbackDelay == 0:
		opts.FallbackDelay = DefaultFallbackDelay
	case opts.FallbackDelay < 0:
		opts.FallbackDelay = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		dial:   opts.Dial,
		delay:  opts.FallbackDelay,
		logger: opts.Logger.With("component", "engine"),
	}
}

// GenerateReply returns the reply text for message. Only the remote path can
// fail, and its errors wrap ErrRemoteCallFailed.
func (e *Engine) GenerateReply(ctx context.Context, message string, docs []knowledge.Document, model *registry.Integration, history []Turn) (string, error) {
	r, err := e.Generate(ctx, Request{Message: message, Knowledge: docs, Model: model, History: history})
	if err != nil {
		return "", err
	}
	return r.Text, nil
}

// Generate is GenerateReply with details about how the reply was produced.
func (e *Engine) Generate(ctx context.Context, req Request) (Reply, error) {
	if req.Model.Usable() {
		return e.remote(ctx, req)
	}
	return e.fallback(ctx, req), nil
}

func (e *Engine) remote(ctx context.Context, req Request) (Reply, error) {
	prompt := composer.Build(req.Message, req.Knowledge, req.History)
	start := time.Now()

	text, err := e.dial(*req.Model.APIKey).Complete(ctx, req.Model.Model, prompt)
	if err != nil {
		e.logger.Warn("remote completion failed", "integration", req.Model.ID, "model", req.Model.Model, "error", err)
		return Reply{}, fmt.Errorf("%w: %w", ErrRemoteCallFailed, err)
	}
	e.logger.Debug("remote completion", "integration", req.Model.ID, "model", req.Model.Model, "duration", time.Since(start))

	if text == "" {
		text = DefaultReply
	}
	return Reply{Text: text, Path: PathRemote}, nil
}

func (e *Engine) fallback(ctx context.Context, req Request) Reply {
	e.wait(ctx)

	best, ok := retrieval.Best(req.Message, req.Knowledge)
	if !ok {
		return Reply{Text: DefaultReply, Path: PathFallback, Score: best.Score}
	}
	doc := best.Document
	return Reply{
		Text:  retrieval.Excerpt(doc.Content),
		Path:  PathFallback,
		Match: &doc,
		Score: best.Score,
	}
}

// wait pauses for the fallback delay; a cancelled ctx ends it early.
func (e *Engine) wait(ctx context.Context) {
	if e.delay <= 0 {
		return
	}
	t := time.NewTimer(e.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
