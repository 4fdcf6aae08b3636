// Package knowledge owns the help-desk knowledge base: the documents the
// responder draws on when answering customers.
package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/helpdesk/internal/notify"
	"github.com/kalambet/helpdesk/internal/storage"
)

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrValidation is returned for a candidate missing a title or content.
	ErrValidation = errors.New("invalid document")
)

// Slots defines the storage operations the Store needs.
// Implemented by storage.Store.
type Slots interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store is the in-memory document collection, written through to a single
// storage slot on every mutation.
type Store struct {
	slots    Slots
	clock    Clock
	notifier notify.Notifier
	logger   *slog.Logger

	mu   sync.RWMutex
	docs []Document
}

// New hydrates a Store from slots, seeding the built-in documents when the
// slot is empty or unreadable.
func New(slots Slots, notifier notify.Notifier, logger *slog.Logger) (*Store, error) {
	return NewWithClock(slots, notifier, logger, realClock{})
}

// NewWithClock is New with a custom clock (for testing).
func NewWithClock(slots Slots, notifier notify.Notifier, logger *slog.Logger, clock Clock) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Discard
	}
	s := &Store{
		slots:    slots,
		clock:    clock,
		notifier: notifier,
		logger:   logger.With("component", "knowledge"),
	}

	docs, ok := s.hydrate()
	if ok {
		s.docs = docs
		return s, nil
	}
	s.docs = seedDocuments()
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) hydrate() ([]Document, bool) {
	raw, err := s.slots.Get(storage.KeyKnowledgeDocuments)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("reading knowledge base", "error", err)
		return nil, false
	}
	var docs []Document
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		s.logger.Warn("parsing knowledge base, reseeding", "error", err)
		return nil, false
	}
	return docs, true
}

// List returns the documents, most recently added first.
func (s *Store) List() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// Get returns the document with id.
func (s *Store) Get(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.docs[i], nil
	}
	return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Add stores c as a new document at the front of the list.
func (s *Store) Add(c Candidate) (Document, error) {
	if err := validate(c.Title, c.Content, c.Source); err != nil {
		return Document{}, err
	}
	if c.Source == "" {
		c.Source = SourceInternal
	}
	doc := Document{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(c.Title),
		Content:     c.Content,
		Source:      c.Source,
		LastUpdated: dateOf(s.clock.Now()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append([]Document{doc}, s.docs...)
	if err := s.persistLocked(); err != nil {
		return doc, err
	}
	s.notifier.Notify(notify.Success("Document Added", "The new document has been added to your knowledge base."))
	return doc, nil
}

// AddAll stores every candidate as Add would, in order, or none of them:
// an invalid entry fails the whole batch before anything is stored.
func (s *Store) AddAll(cs []Candidate) ([]Document, error) {
	for i, c := range cs {
		if err := validate(c.Title, c.Content, c.Source); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	if len(cs) == 0 {
		return nil, nil
	}

	today := dateOf(s.clock.Now())
	added := make([]Document, len(cs))
	for i, c := range cs {
		if c.Source == "" {
			c.Source = SourceInternal
		}
		added[i] = Document{
			ID:          uuid.New().String(),
			Title:       strings.TrimSpace(c.Title),
			Content:     c.Content,
			Source:      c.Source,
			LastUpdated: today,
		}
	}
	front := slices.Clone(added)
	slices.Reverse(front)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(front, s.docs...)
	if err := s.persistLocked(); err != nil {
		return added, err
	}
	s.notifier.Notify(notify.Success("Documents Added", fmt.Sprintf("%d documents have been added to your knowledge base.", len(added))))
	return added, nil
}

// Update replaces the title, content and source of the document with the
// same id and refreshes its date.
func (s *Store) Update(doc Document) (Document, error) {
	if err := validate(doc.Title, doc.Content, doc.Source); err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(doc.ID)
	if i < 0 {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, doc.ID)
	}
	if doc.Source == "" {
		doc.Source = s.docs[i].Source
	}
	doc.Title = strings.TrimSpace(doc.Title)
	doc.LastUpdated = dateOf(s.clock.Now())
	s.docs[i] = doc
	if err := s.persistLocked(); err != nil {
		return doc, err
	}
	s.notifier.Notify(notify.Success("Document Updated", "Your changes have been saved successfully."))
	return doc, nil
}

// Remove deletes the document with id. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	s.docs = append(s.docs[:i], s.docs[i+1:]...)
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.notifier.Notify(notify.Info("Document Deleted", "The document has been successfully removed."))
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, d := range s.docs {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes the whole collection. Caller must hold mu or be the constructor.
func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.docs)
	if err != nil {
		return fmt.Errorf("encoding knowledge base: %w", err)
	}
	if err := s.slots.Set(storage.KeyKnowledgeDocuments, string(data)); err != nil {
		s.logger.Error("saving knowledge base", "error", err)
		return fmt.Errorf("saving knowledge base: %w", err)
	}
	return nil
}

func validate(title, content string, source Source) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if source != "" && !source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrValidation, source)
	}
	return nil
}
