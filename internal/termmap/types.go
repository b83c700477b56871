package termmap

// TermMap maps source language terms to their fixed target language rendering.
type TermMap map[string]string

// MatchResult holds terms that matched against input texts.
type MatchResult struct {
	Matched TermMap
}
