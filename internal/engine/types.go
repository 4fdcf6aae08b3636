package engine

import (
	"github.com/kalambet/helpdesk/internal/composer"
	"github.com/kalambet/helpdesk/internal/knowledge"
	"github.com/kalambet/helpdesk/internal/registry"
)

// Turn is one prior message passed to the engine as history.
type Turn = composer.Turn

// Path reports which strategy produced a reply.
type Path string

const (
	PathRemote   Path = "remote"
	PathFallback Path = "fallback"
)

// Request is everything needed to produce one reply.
type Request struct {
	Message   string
	Knowledge []knowledge.Document
	Model     *registry.Integration
	History   []Turn
}

// Reply is a generated answer plus how it was produced.
type Reply struct {
	Text string `json:"text"`
	Path Path   `json:"path"`
	// Match is the document the fallback answered from, if any.
	Match *knowledge.Document `json:"match,omitempty"`
	Score int                 `json:"score,omitempty"`
}
