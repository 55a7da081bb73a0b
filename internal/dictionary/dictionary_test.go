package dictionary

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexiclash/core/internal/domain"
)

func TestInMemory_UnknownBeforeLoad(t *testing.T) {
	o := NewInMemory()
	assert.Equal(t, Unknown, o.IsValidWord("cat", domain.LanguageEnglish))
}

func TestInMemory_ValidAfterLoad(t *testing.T) {
	o := NewInMemory()
	o.Load(domain.LanguageEnglish, []string{"cat", "dog"})
	assert.Equal(t, Valid, o.IsValidWord("cat", domain.LanguageEnglish))
	assert.Equal(t, Valid, o.IsValidWord("CAT", domain.LanguageEnglish), "lookup is case-insensitive")
}

func TestInMemory_InvalidForUnknownWord(t *testing.T) {
	o := NewInMemory()
	o.Load(domain.LanguageEnglish, []string{"cat"})
	assert.Equal(t, Invalid, o.IsValidWord("xyzzy", domain.LanguageEnglish))
}

func TestInMemory_LanguagesAreIndependent(t *testing.T) {
	o := NewInMemory()
	o.Load(domain.LanguageEnglish, []string{"cat"})
	assert.Equal(t, Unknown, o.IsValidWord("cat", domain.LanguageHebrew))
}

func TestInMemory_LoadReplacesPreviousList(t *testing.T) {
	o := NewInMemory()
	o.Load(domain.LanguageEnglish, []string{"cat"})
	o.Load(domain.LanguageEnglish, []string{"dog"})
	assert.Equal(t, Invalid, o.IsValidWord("cat", domain.LanguageEnglish))
	assert.Equal(t, Valid, o.IsValidWord("dog", domain.LanguageEnglish))
}

func TestInMemory_SatisfiesOracle(t *testing.T) {
	var _ Oracle = NewInMemory()
}
