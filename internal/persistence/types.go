package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CacheEntry is one translated string keyed by everything that shaped it.
type CacheEntry struct {
	Key            string
	Language       string
	Model          string
	SourceText     string
	TranslatedText string
	UpdatedAt      time.Time
}

// CacheStats summarizes the translation cache.
type CacheStats struct {
	Entries     int
	ByLanguage  map[string]int
	LastUpdated time.Time
}

// CacheKey derives the cache key for a source text. Any change of language,
// model, style or glossary yields a different key.
func CacheKey(language, model, style, glossary, sourceText string) string {
	h := sha256.New()
	for _, part := range []string{language, model, style, glossary, sourceText} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
