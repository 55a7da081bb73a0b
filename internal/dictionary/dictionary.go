// Package dictionary implements the Dictionary Oracle collaborator
// contract (spec §6): a pure lookup, no I/O after initial load, returning
// valid/invalid/unknown for a candidate in a given language.
package dictionary

import (
	"strings"
	"sync"

	"github.com/lexiclash/core/internal/domain"
)

// Result is the tri-state lookup outcome.
type Result int

const (
	Invalid Result = iota
	Valid
	Unknown // dictionaries not loaded for this language
)

// Oracle is the Dictionary Oracle's contract: isValidWord(word, lang).
// Dictionary file loading and normalization are out of the core's scope
// (spec §1); this interface is all the core depends on.
type Oracle interface {
	IsValidWord(word string, lang domain.Language) Result
}

// InMemory is a pure, no-I/O Oracle backed by a preloaded word set per
// language — the shape the out-of-scope loader hands to the core after
// reading dictionary files.
type InMemory struct {
	mu      sync.RWMutex
	byLang  map[domain.Language]map[string]struct{}
	loaded  map[domain.Language]bool
}

// NewInMemory builds an oracle with no languages loaded; every lookup
// returns Unknown until Load is called.
func NewInMemory() *InMemory {
	return &InMemory{
		byLang: map[domain.Language]map[string]struct{}{},
		loaded: map[domain.Language]bool{},
	}
}

// Load installs a word list for lang, replacing any previous list. Words
// are normalized to lowercase on insertion.
func (o *InMemory) Load(lang domain.Language, words []string) {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byLang[lang] = set
	o.loaded[lang] = true
}

// IsValidWord implements Oracle.
func (o *InMemory) IsValidWord(word string, lang domain.Language) Result {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.loaded[lang] {
		return Unknown
	}
	if _, ok := o.byLang[lang][strings.ToLower(word)]; ok {
		return Valid
	}
	return Invalid
}
