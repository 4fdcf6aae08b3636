// Package retrieval implements the deterministic keyword scorer used to
// answer from the knowledge base when no remote model is connected.
package retrieval

import (
	"sort"
	"strings"

	"github.com/kalambet/helpdesk/internal/knowledge"
)

const (
	// TitleWeight and ContentWeight are added per query token found in the
	// title or content.
	TitleWeight   = 2
	ContentWeight = 1

	// MinScore is the threshold a best match must strictly exceed. Tunable;
	// the value keeps single content-only hits from being answered.
	MinScore = 1
)

var stripPunct = strings.NewReplacer("?", "", ".", "", ",", "", "!", "")

// Normalize lower-cases and trims query and removes the characters ?.,!
func Normalize(query string) string {
	return stripPunct.Replace(strings.TrimSpace(strings.ToLower(query)))
}

// Tokenize normalizes query and splits it on whitespace.
func Tokenize(query string) []string {
	return strings.Fields(Normalize(query))
}

// Score returns TitleWeight × (tokens contained in the title) +
// ContentWeight × (tokens contained in the content). Matching is by
// substring on lower-cased text.
func Score(tokens []string, doc knowledge.Document) int {
	title := strings.ToLower(doc.Title)
	content := strings.ToLower(doc.Content)
	score := 0
	for _, tok := range tokens {
		if strings.Contains(title, tok) {
			score += TitleWeight
		}
		if strings.Contains(content, tok) {
			score += ContentWeight
		}
	}
	return score
}

// ScoredDocument pairs a document with its score for a query.
type ScoredDocument struct {
	Document knowledge.Document `json:"document"`
	Score    int                `json:"score"`
}

// Best returns the highest-scoring document for query. The first document
// wins ties. ok is false when no document scores above MinScore.
func Best(query string, docs []knowledge.Document) (best ScoredDocument, ok bool) {
	tokens := Tokenize(query)
	for _, d := range docs {
		if s := Score(tokens, d); s > best.Score {
			best = ScoredDocument{Document: d, Score: s}
		}
	}
	return best, best.Score > MinScore
}

// Rank returns up to topK documents with a positive score, highest first.
// Equal scores keep knowledge-base order. topK <= 0 returns all matches.
func Rank(query string, docs []knowledge.Document, topK int) []ScoredDocument {
	tokens := Tokenize(query)
	var out []ScoredDocument
	for _, d := range docs {
		if s := Score(tokens, d); s > 0 {
			out = append(out, ScoredDocument{Document: d, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Excerpt returns the first two ". "-separated sentences of content joined
// back with ". ".
func Excerpt(content string) string {
	sentences := strings.Split(content, ". ")
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}
	return strings.Join(sentences, ". ")
}
