package state

import (
	"sync"

	"github.com/ashureev/fluxion-chat/internal/domain"
)

// SettingsStore holds the selected provider/model pair.
type SettingsStore struct {
	emitMu sync.Mutex
	mu     sync.RWMutex
	cfg    domain.LLMConfig

	listeners listenerSet
}

// NewSettingsStore returns a store seeded with initial, repaired if the pair
// is inconsistent.
func NewSettingsStore(initial domain.LLMConfig) *SettingsStore {
	return &SettingsStore{cfg: initial.Normalize()}
}

// Subscribe registers fn for every subsequent change.
func (s *SettingsStore) Subscribe(fn Listener) func() {
	return s.listeners.add(fn)
}

// Config returns the current selection.
func (s *SettingsStore) Config() domain.LLMConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetProvider switches provider and resets the model to its default in the
// same step. Unknown providers are rejected and reported with false.
func (s *SettingsStore) SetProvider(p domain.Provider) bool {
	if !p.Valid() {
		return false
	}
	s.apply(domain.LLMConfig{Provider: p, Model: p.DefaultModel()})
	return true
}

// SetModel changes the model. The caller is responsible for checking that the
// model belongs to the current provider.
func (s *SettingsStore) SetModel(model string) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.cfg.Model == model {
		s.mu.Unlock()
		return
	}
	s.cfg.Model = model
	cfg := s.cfg
	s.mu.Unlock()

	s.listeners.notify(Change{Slice: SliceLLMConfig, LLMConfig: cfg})
}

// SetConfig replaces the whole selection, repairing inconsistent pairs.
func (s *SettingsStore) SetConfig(cfg domain.LLMConfig) {
	s.apply(cfg.Normalize())
}

// Restore loads a persisted selection without notifying listeners.
func (s *SettingsStore) Restore(cfg domain.LLMConfig) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.cfg = cfg.Normalize()
	s.mu.Unlock()
}

func (s *SettingsStore) apply(cfg domain.LLMConfig) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.cfg == cfg {
		s.mu.Unlock()
		return
	}
	s.cfg = cfg
	s.mu.Unlock()

	s.listeners.notify(Change{Slice: SliceLLMConfig, LLMConfig: cfg})
}
