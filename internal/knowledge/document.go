package knowledge

import "time"

// Source records where a document came from.
type Source string

const (
	SourceInternal     Source = "internal"
	SourceUploadedFile Source = "uploaded-file"
	SourceWebPage      Source = "web-page"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceInternal, SourceUploadedFile, SourceWebPage:
		return true
	}
	return false
}

// DateLayout is the day-granularity format used for LastUpdated.
const DateLayout = "2006-01-02"

// Document is one knowledge-base article.
type Document struct {
	ID          string `json:"id" yaml:"id,omitempty"`
	Title       string `json:"title" yaml:"title"`
	Content     string `json:"content" yaml:"content"`
	Source      Source `json:"source" yaml:"source"`
	LastUpdated string `json:"lastUpdated" yaml:"lastUpdated,omitempty"`
}

// Candidate is a document that has not been stored yet.
type Candidate struct {
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
	Source  Source `json:"source" yaml:"source"`
}

func dateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// seedDocuments is installed when nothing has been persisted yet.
func seedDocuments() []Document {
	return []Document{
		{
			ID:          "1",
			Title:       "Onboarding New Customers",
			Source:      SourceInternal,
			LastUpdated: "2025-07-15",
			Content:     "Welcome to our service! Here are the first steps to get you started. First, configure your account settings. Second, invite your team members. Finally, explore our main features through the guided tour.",
		},
		{
			ID:          "2",
			Title:       "Refund Policy Q3 2025",
			Source:      SourceUploadedFile,
			LastUpdated: "2025-07-12",
			Content:     "Our Q3 2025 refund policy states that customers can request a full refund within 14 days of purchase. After 14 days, a partial refund may be issued on a case-by-case basis. All refund requests should be submitted through our support portal.",
		},
		{
			ID:          "3",
			Title:       "API Rate Limits",
			Source:      SourceWebPage,
			LastUpdated: "2025-07-10",
			Content:     "The rate limit for our public API is 100 requests per minute per API key. For enterprise plans, this limit can be increased. Please contact sales for more information on custom rate limits.",
		},
		{
			ID:          "4",
			Title:       "Troubleshooting Login Issues",
			Source:      SourceInternal,
			LastUpdated: "2025-07-05",
			Content:     "If a user is unable to log in, first ask them to reset their password. If the issue persists, check if their account is locked or if there are any ongoing service outages. Escalate to a senior technician if the problem is not resolved within 15 minutes.",
		},
	}
}
