package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
	"github.com/MimeLyc/subtitle-batch-translator/internal/termmap"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

const (
	inlineBreakerPlaceholder = "%%inline_breaker%%"
	defaultTemperature       = 0.3
)

// chatCompleter is the subset of *llm.Client the translator needs.
type chatCompleter interface {
	ChatCompletion(ctx context.Context, messages []llm.Message, opts *llm.ChatCompletionOptions) (*llm.ChatResponse, error)
	Model() string
}

// LLMClient translates batches through an OpenAI compatible chat endpoint.
type LLMClient struct {
	chat        chatCompleter
	temperature float64
	maxTokens   int
	jsonMode    bool
}

// LLMOption configures an LLMClient.
type LLMOption func(*LLMClient)

// WithTemperature sets the sampling temperature for models that accept one.
func WithTemperature(temperature float64) LLMOption {
	return func(c *LLMClient) {
		c.temperature = temperature
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(maxTokens int) LLMOption {
	return func(c *LLMClient) {
		c.maxTokens = maxTokens
	}
}

// WithJSONMode toggles the provider's JSON response format.
func WithJSONMode(enabled bool) LLMOption {
	return func(c *LLMClient) {
		c.jsonMode = enabled
	}
}

// NewLLMClient wraps a chat client.
func NewLLMClient(chat chatCompleter, opts ...LLMOption) *LLMClient {
	c := &LLMClient{
		chat:        chat,
		temperature: defaultTemperature,
		jsonMode:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TranslateBatch performs exactly one provider call. Retrying is the caller's job.
func (c *LLMClient) TranslateBatch(ctx context.Context, req BatchRequest) ([]string, error) {
	if len(req.Blocks) == 0 {
		return nil, newClientError(KindOther, "empty batch", nil)
	}

	texts := make([]string, len(req.Blocks))
	for i, block := range req.Blocks {
		// Keep multi-line cues on one JSON line so the model cannot split them.
		texts[i] = strings.ReplaceAll(block.Text, "\n", inlineBreakerPlaceholder)
	}

	userMessage, err := buildTranslationUserMessage(texts)
	if err != nil {
		return nil, newClientError(KindOther, "encode batch", err)
	}

	model := req.Model
	if model == "" {
		model = c.chat.Model()
	}

	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(buildSystemPrompt(req)).
		WithModel(model)
	if c.maxTokens > 0 {
		opts.WithMaxTokens(c.maxTokens)
	}
	if supportsTemperature(model) {
		opts.WithTemperature(c.temperature)
	} else {
		opts.WithoutTemperature()
	}
	if c.jsonMode {
		opts.WithJSONResponse()
	}

	log.Debug("Translating %d blocks to %s with %s", len(texts), req.Target.Name, model)

	resp, err := c.chat.ChatCompletion(ctx, []llm.Message{{Role: "user", Content: userMessage}}, opts)
	if err != nil {
		return nil, Classify(err)
	}

	translations, err := parseTranslationOutput(resp.Content(), len(texts))
	if err != nil {
		return nil, newClientError(KindMalformedResponse, "unusable translation output", err)
	}

	fixInlineBreakers(texts, translations)
	for i := range translations {
		translations[i] = strings.ReplaceAll(translations[i], inlineBreakerPlaceholder, "\n")
	}
	return translations, nil
}

// supportsTemperature reports whether the model accepts a temperature
// parameter. Reasoning models reject anything but the default.
func supportsTemperature(model string) bool {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	switch {
	case strings.HasPrefix(m, "gpt-5"),
		strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"),
		strings.HasPrefix(m, "o4"):
		return false
	}
	return true
}

func buildSystemPrompt(req BatchRequest) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional subtitle localizer. Translate English subtitles into " + req.Target.Name + ".\n\n")

	prompt.WriteString("=== TRANSLATION GUIDELINES ===\n")
	prompt.WriteString("1. Translate meaning and tone, not word for word\n")
	prompt.WriteString("2. Keep each line short enough to read on screen\n")
	prompt.WriteString("3. Keep names of people and places unless an established local form exists\n")
	prompt.WriteString("4. MUST preserve the count of " + inlineBreakerPlaceholder + " markers in every line\n")
	prompt.WriteString("5. Do NOT merge, split, reorder, or drop lines\n")
	prompt.WriteString("6. If an input line is empty, output text for that index MUST be an empty string\n")

	style := strings.TrimSpace(req.Style)
	if style == "" {
		style = strings.TrimSpace(req.Target.Style)
	}
	if style != "" {
		prompt.WriteString("\n=== STYLE ===\n")
		prompt.WriteString(style)
		prompt.WriteString("\n")
	}

	if section := termmap.Match(req.Terms, blockTexts(req)).PromptSection(); section != "" {
		prompt.WriteString("\n=== TERM MAPPINGS ===\n")
		prompt.WriteString(section)
		prompt.WriteString("\n")
	}

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString(`Return ONLY a JSON object of the form {"translations":[{"index":1,"text":"..."}]}` + "\n")
	prompt.WriteString("Include exactly one entry for every input index. Do not add explanations or notes.\n")

	return prompt.String()
}

func blockTexts(req BatchRequest) []string {
	texts := make([]string, len(req.Blocks))
	for i, block := range req.Blocks {
		texts[i] = block.Text
	}
	return texts
}

type indexedLine struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func buildTranslationUserMessage(texts []string) (string, error) {
	payload := struct {
		Lines []indexedLine `json:"lines"`
	}{Lines: make([]indexedLine, len(texts))}
	for i, text := range texts {
		payload.Lines[i] = indexedLine{Index: i + 1, Text: text}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseTranslationOutput accepts an object wrapping the indexed lines, a bare
// indexed array, or a plain array of strings. The result is in index order.
func parseTranslationOutput(content string, expected int) ([]string, error) {
	content = stripCodeFence(strings.TrimSpace(content))
	if content == "" {
		return nil, fmt.Errorf("empty translation output")
	}

	raw := json.RawMessage(content)
	if strings.HasPrefix(content, "{") {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(content), &wrapper); err != nil {
			return nil, fmt.Errorf("invalid json output: %w", err)
		}
		found := false
		for _, key := range []string{"translations", "lines", "subtitles"} {
			if v, ok := wrapper[key]; ok {
				raw, found = v, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("json output has no translations array")
		}
	}

	var indexed []indexedLine
	if err := json.Unmarshal(raw, &indexed); err == nil {
		return orderIndexedLines(indexed, expected)
	}

	var plain []string
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("invalid json output: %w", err)
	}
	if len(plain) != expected {
		return nil, fmt.Errorf("translation count mismatch: expected %d, got %d", expected, len(plain))
	}
	return plain, nil
}

func orderIndexedLines(lines []indexedLine, expected int) ([]string, error) {
	if len(lines) != expected {
		return nil, fmt.Errorf("translation count mismatch: expected %d, got %d", expected, len(lines))
	}

	out := make([]string, expected)
	seen := make([]bool, expected)
	for _, line := range lines {
		if line.Index < 1 || line.Index > expected {
			return nil, fmt.Errorf("translation index %d out of range 1..%d", line.Index, expected)
		}
		if seen[line.Index-1] {
			return nil, fmt.Errorf("duplicate translation index %d", line.Index)
		}
		seen[line.Index-1] = true
		out[line.Index-1] = line.Text
	}
	return out, nil
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// fixInlineBreakers makes each translation carry as many breakers as its
// source line. Missing breakers are inserted at the nearest space to an even
// split; extra ones are collapsed into spaces from the end.
func fixInlineBreakers(sources []string, translations []string) {
	for i := range translations {
		if i >= len(sources) {
			return
		}
		want := strings.Count(sources[i], inlineBreakerPlaceholder)
		got := strings.Count(translations[i], inlineBreakerPlaceholder)
		switch {
		case got == want:
			continue
		case got > want:
			translations[i] = removeExtraBreakers(translations[i], got-want)
		default:
			translations[i] = insertBreakers(translations[i], want-got)
		}
	}
}

func removeExtraBreakers(text string, extra int) string {
	for ; extra > 0; extra-- {
		idx := strings.LastIndex(text, inlineBreakerPlaceholder)
		if idx < 0 {
			break
		}
		text = text[:idx] + " " + text[idx+len(inlineBreakerPlaceholder):]
	}
	return strings.TrimSpace(text)
}

func insertBreakers(text string, missing int) string {
	for ; missing > 0; missing-- {
		runes := []rune(text)
		if len(runes) < 2 {
			return text
		}
		mid := len(runes) / 2
		cut := mid
		for offset := 0; offset < mid; offset++ {
			if runes[mid+offset] == ' ' {
				cut = mid + offset
				break
			}
			if runes[mid-offset] == ' ' {
				cut = mid - offset
				break
			}
		}
		left := strings.TrimRight(string(runes[:cut]), " ")
		right := strings.TrimLeft(string(runes[cut:]), " ")
		text = left + inlineBreakerPlaceholder + right
	}
	return text
}
