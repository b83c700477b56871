package library

import "time"

// Output is the state of one expected translation of a source file.
type Output struct {
	Language string    `json:"language"`
	Path     string    `json:"path"`
	Exists   bool      `json:"exists"`
	Size     int64     `json:"size,omitempty"`
	Modified time.Time `json:"modified,omitempty"`
	// Stale is set when the source changed after the output was written.
	Stale bool `json:"stale,omitempty"`
}

// Item is one source subtitle file.
type Item struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Folder   string    `json:"folder"`
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
	Outputs  []Output  `json:"outputs"`
}

// Missing lists languages whose output does not exist yet.
func (i Item) Missing() []string {
	var missing []string
	for _, o := range i.Outputs {
		if !o.Exists {
			missing = append(missing, o.Language)
		}
	}
	return missing
}

// Coverage counts existing outputs for one language.
type Coverage struct {
	Language   string `json:"language"`
	Translated int    `json:"translated"`
	Stale      int    `json:"stale"`
	Total      int    `json:"total"`
}

type Library struct {
	SourceDir  string     `json:"sourceDir"`
	OutputRoot string     `json:"outputRoot"`
	Items      []Item     `json:"items"`
	Coverage   []Coverage `json:"coverage"`
	ScannedAt  time.Time  `json:"scannedAt"`
}
