package translator

import (
	"context"
	"sort"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/internal/persistence"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/termmap"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// TranslationStore persists translated strings by cache key.
type TranslationStore interface {
	GetTranslations(ctx context.Context, keys []string) (map[string]string, error)
	PutTranslations(ctx context.Context, entries []persistence.CacheEntry) error
}

// CachedClient serves previously translated blocks from a store and sends
// only the remainder to the wrapped client. Store failures are logged and
// otherwise ignored. Requests with Refresh set skip the lookup but still
// update the store. Blank translations of non-blank text are never stored.
type CachedClient struct {
	next         Client
	store        TranslationStore
	defaultModel string
}

func NewCachedClient(next Client, store TranslationStore, defaultModel string) *CachedClient {
	return &CachedClient{next: next, store: store, defaultModel: defaultModel}
}

func (c *CachedClient) TranslateBatch(ctx context.Context, req BatchRequest) ([]string, error) {
	if len(req.Blocks) == 0 {
		return c.next.TranslateBatch(ctx, req)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	style := req.Style
	if style == "" {
		style = req.Target.Style
	}

	keys := make([]string, len(req.Blocks))
	for i, block := range req.Blocks {
		keys[i] = persistence.CacheKey(req.Target.Key, model, style, glossaryKey(req.Terms, block.Text), block.Text)
	}

	var cached map[string]string
	if !req.Refresh {
		var err error
		cached, err = c.store.GetTranslations(ctx, keys)
		if err != nil {
			log.Warn("Translation cache lookup failed: %v", err)
			cached = nil
		}
	}

	out := make([]string, len(req.Blocks))
	var missing []int
	for i, key := range keys {
		if text, ok := cached[key]; ok {
			out[i] = text
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		log.Debug("Translation cache hit for all %d blocks (%s)", len(out), req.Target.Name)
		return out, nil
	}

	sub := req
	sub.Blocks = make([]subtitle.Block, len(missing))
	for j, i := range missing {
		sub.Blocks[j] = req.Blocks[i]
	}

	translated, err := c.next.TranslateBatch(ctx, sub)
	if err != nil {
		return nil, err
	}
	if len(translated) != len(missing) {
		return nil, newClientError(KindMalformedResponse, "translation count mismatch", nil)
	}

	entries := make([]persistence.CacheEntry, 0, len(missing))
	for j, i := range missing {
		out[i] = translated[j]
		if strings.TrimSpace(translated[j]) == "" && strings.TrimSpace(req.Blocks[i].Text) != "" {
			continue
		}
		entries = append(entries, persistence.CacheEntry{
			Key:            keys[i],
			Language:       req.Target.Key,
			Model:          model,
			SourceText:     req.Blocks[i].Text,
			TranslatedText: translated[j],
		})
	}
	if len(entries) == 0 {
		return out, nil
	}
	if err := c.store.PutTranslations(ctx, entries); err != nil {
		log.Warn("Translation cache write failed: %v", err)
	}
	return out, nil
}

// glossaryKey renders the terms that occur in text in a stable order, so a
// glossary edit invalidates only the lines it affects.
func glossaryKey(terms termmap.TermMap, text string) string {
	if len(terms) == 0 {
		return ""
	}
	matched := termmap.Match(terms, []string{text}).Matched
	if len(matched) == 0 {
		return ""
	}
	sources := make([]string, 0, len(matched))
	for source := range matched {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	var b strings.Builder
	for _, source := range sources {
		b.WriteString(source)
		b.WriteByte('=')
		b.WriteString(matched[source])
		b.WriteByte('\n')
	}
	return b.String()
}
