// Package registry tracks the remote model integrations the console can use
// and which one, if any, is active.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/helpdesk/internal/notify"
	"github.com/kalambet/helpdesk/internal/storage"
)

var (
	// ErrNotFound is returned when no integration has the requested id.
	ErrNotFound = errors.New("integration not found")
	// ErrValidation is returned for a blank API key, an unconnected active
	// choice, or an incomplete custom integration.
	ErrValidation = errors.New("invalid integration request")
)

// Integration is one configured remote model provider.
// APIKey is non-nil exactly when IsConnected is true.
type Integration struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Model       string  `json:"model"`
	IsConnected bool    `json:"isConnected"`
	APIKey      *string `json:"apiKey"`
}

// Usable reports whether the integration can serve remote completions.
func (i *Integration) Usable() bool {
	return i != nil && i.IsConnected && i.APIKey != nil && *i.APIKey != "" && i.Model != ""
}

// Redacted returns a copy whose key is masked for display.
func (i Integration) Redacted() Integration {
	if i.APIKey != nil {
		k := maskKey(*i.APIKey)
		i.APIKey = &k
	}
	return i
}

func maskKey(k string) string {
	if len(k) <= 8 {
		return "****"
	}
	return k[:4] + "..." + k[len(k)-4:]
}

// Slots defines the storage operations the Registry needs.
// Implemented by storage.Store.
type Slots interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Registry holds the integrations and the active selection.
type Registry struct {
	slots    Slots
	notifier notify.Notifier
	logger   *slog.Logger

	mu           sync.RWMutex
	integrations []Integration
	activeID     string
}

func defaultIntegrations() []Integration {
	return []Integration{
		{ID: "openrouter", Name: "OpenRouter", Description: "Access a variety of models through a single API.", Model: "openai/gpt-3.5-turbo"},
		{ID: "gemini", Name: "Gemini", Description: "Connect to Google's powerful generative AI models.", Model: "google/gemini-pro"},
		{ID: "chatgpt", Name: "ChatGPT", Description: "Integrate with OpenAI's state-of-the-art language models.", Model: "openai/gpt-4"},
		{ID: "claude", Name: "Claude", Description: "Leverage Anthropic's safety-focused AI assistant.", Model: "anthropic/claude-3-opus"},
	}
}

// New hydrates a Registry from slots. Missing or unreadable integrations are
// replaced by the four disconnected defaults; a stored active id that no
// longer points at a connected integration is dropped.
func New(slots Slots, notifier notify.Notifier, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Discard
	}
	r := &Registry{
		slots:    slots,
		notifier: notifier,
		logger:   logger.With("component", "registry"),
	}

	seeded := false
	r.integrations, seeded = r.hydrateIntegrations()
	r.activeID = r.hydrateActive()
	if r.activeID != "" {
		if i := r.indexOf(r.activeID); i < 0 || !r.integrations[i].IsConnected {
			r.logger.Warn("dropping stale active integration", "id", r.activeID)
			r.activeID = ""
			if err := r.persistActiveLocked(); err != nil {
				return nil, err
			}
		}
	}
	if seeded {
		if err := r.persistIntegrationsLocked(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) hydrateIntegrations() ([]Integration, bool) {
	raw, err := r.slots.Get(storage.KeyModelIntegrations)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("reading integrations", "error", err)
		}
		return defaultIntegrations(), true
	}
	var list []Integration
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		r.logger.Warn("parsing integrations, using defaults", "error", err)
		return defaultIntegrations(), true
	}
	for i := range list {
		// Restore the key/flag pairing if the stored record was edited by hand.
		if list[i].APIKey == nil || *list[i].APIKey == "" {
			list[i].IsConnected = false
			list[i].APIKey = nil
		} else if !list[i].IsConnected {
			list[i].APIKey = nil
		}
	}
	return list, false
}

func (r *Registry) hydrateActive() string {
	raw, err := r.slots.Get(storage.KeyActiveModelID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("reading active integration", "error", err)
		}
		return ""
	}
	var id *string
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		r.logger.Warn("parsing active integration", "error", err)
		return ""
	}
	if id == nil {
		return ""
	}
	return *id
}

// List returns every integration in registration order.
func (r *Registry) List() []Integration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Integration, len(r.integrations))
	for i, in := range r.integrations {
		out[i] = clone(in)
	}
	return out
}

// Get returns the integration with id.
func (r *Registry) Get(id string) (Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(id)
	if i < 0 {
		return Integration{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(r.integrations[i]), nil
}

// Active returns the active integration, or nil when none is active.
func (r *Registry) Active() *Integration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil
	}
	i := r.indexOf(r.activeID)
	if i < 0 {
		return nil
	}
	in := clone(r.integrations[i])
	return &in
}

// ActiveID returns the active integration id, or "" when none is active.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// Connect stores apiKey for id and marks it connected. The integration
// becomes active when nothing else is.
func (r *Registry) Connect(id, apiKey string) (Integration, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Integration{}, fmt.Errorf("%w: api key is required", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return Integration{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.integrations[i].IsConnected = true
	r.integrations[i].APIKey = &apiKey
	activeChanged := false
	if r.activeID == "" {
		r.activeID = id
		activeChanged = true
	}

	if err := r.persistIntegrationsLocked(); err != nil {
		return clone(r.integrations[i]), err
	}
	if activeChanged {
		if err := r.persistActiveLocked(); err != nil {
			return clone(r.integrations[i]), err
		}
	}
	r.logger.Info("integration connected", "id", id, "active", r.activeID == id)
	r.notifier.Notify(notify.Success("LLM Connected", fmt.Sprintf("Successfully connected to %s.", r.integrations[i].Name)))
	return clone(r.integrations[i]), nil
}

// Disconnect clears the key for id. If id was active, the first other
// connected integration takes over, or nothing is active. Disconnecting an
// already disconnected integration changes nothing.
func (r *Registry) Disconnect(id string) (Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return Integration{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !r.integrations[i].IsConnected && r.activeID != id {
		return clone(r.integrations[i]), nil
	}
	r.integrations[i].IsConnected = false
	r.integrations[i].APIKey = nil

	activeChanged := false
	if r.activeID == id {
		r.activeID = ""
		for _, other := range r.integrations {
			if other.IsConnected && other.ID != id {
				r.activeID = other.ID
				break
			}
		}
		activeChanged = true
	}

	if err := r.persistIntegrationsLocked(); err != nil {
		return clone(r.integrations[i]), err
	}
	if activeChanged {
		if err := r.persistActiveLocked(); err != nil {
			return clone(r.integrations[i]), err
		}
	}
	r.logger.Info("integration disconnected", "id", id, "active", r.activeID)
	r.notifier.Notify(notify.Info("LLM Disconnected", fmt.Sprintf("Disconnected from %s.", r.integrations[i].Name)))
	return clone(r.integrations[i]), nil
}

// SetActive selects id as the active integration. An empty id clears the
// selection. Only connected integrations can be selected.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" {
		i := r.indexOf(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if !r.integrations[i].IsConnected {
			return fmt.Errorf("%w: %s is not connected", ErrValidation, id)
		}
	}
	r.activeID = id
	return r.persistActiveLocked()
}

// AddCustom appends a new, disconnected integration and assigns its id.
func (r *Registry) AddCustom(in Integration) (Integration, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Model = strings.TrimSpace(in.Model)
	if in.Name == "" || in.Model == "" {
		return Integration{}, fmt.Errorf("%w: name and model are required", ErrValidation)
	}
	in.ID = uuid.New().String()
	in.IsConnected = false
	in.APIKey = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	r.integrations = append(r.integrations, in)
	if err := r.persistIntegrationsLocked(); err != nil {
		return in, err
	}
	r.notifier.Notify(notify.Success("Integration Added", fmt.Sprintf("%s has been added to your integrations list.", in.Name)))
	return in, nil
}

func (r *Registry) indexOf(id string) int {
	for i, in := range r.integrations {
		if in.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) persistIntegrationsLocked() error {
	data, err := json.Marshal(r.integrations)
	if err != nil {
		return fmt.Errorf("encoding integrations: %w", err)
	}
	if err := r.slots.Set(storage.KeyModelIntegrations, string(data)); err != nil {
		r.logger.Error("saving integrations", "error", err)
		return fmt.Errorf("saving integrations: %w", err)
	}
	return nil
}

func (r *Registry) persistActiveLocked() error {
	var id *string
	if r.activeID != "" {
		id = &r.activeID
	}
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encoding active integration: %w", err)
	}
	if err := r.slots.Set(storage.KeyActiveModelID, string(data)); err != nil {
		r.logger.Error("saving active integration", "error", err)
		return fmt.Errorf("saving active integration: %w", err)
	}
	return nil
}

func clone(in Integration) Integration {
	if in.APIKey != nil {
		k := *in.APIKey
		in.APIKey = &k
	}
	return in
}
