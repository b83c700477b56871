package subtitle

import (
	"time"

	"golang.org/x/text/language"
)

// Block is one timed subtitle entry. Index is the 0-based position in the
// source file and never changes.
type Block struct {
	Index          int
	Start          time.Duration
	End            time.Duration
	Text           string
	TranslatedText string
}

// WithTranslation returns a copy of b carrying text as its translation.
func (b Block) WithTranslation(text string) Block {
	b.TranslatedText = text
	return b
}

// Silent reports whether the block has no source dialogue.
func (b Block) Silent() bool {
	return isBlank(b.Text)
}

// File is a parsed subtitle file.
type File struct {
	Path     string
	Blocks   []Block
	Language language.Tag
}

// CharCount returns the number of characters of source text across blocks.
func CharCount(blocks []Block) int {
	n := 0
	for _, b := range blocks {
		n += len([]rune(b.Text))
	}
	return n
}
