// Package estimate predicts token usage and cost of translating a folder.
package estimate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

const (
	charsPerToken = 4
	// promptTokens approximates the system prompt and JSON framing sent with
	// every batch.
	promptTokens = 350

	outputRatio  = 1.2
	safetyFactor = 1.15

	// USDToINR is the fixed conversion rate used for the INR column.
	USDToINR = 83.0
)

// Price is the cost of one token in USD.
type Price struct {
	Name       string
	Input      float64
	Output     float64
	Confidence string
}

// Prices lists known models, keyed without provider prefix.
var Prices = map[string]Price{
	"gpt-4o-mini": {Name: "GPT-4o Mini", Input: 0.15e-6, Output: 0.60e-6, Confidence: "high"},
	"gpt-5-mini":  {Name: "GPT-5 Mini", Input: 0.075e-6, Output: 0.30e-6, Confidence: "high"},
	"gpt-4o":      {Name: "GPT-4o", Input: 2.50e-6, Output: 10.0e-6, Confidence: "high"},
	"gpt-5":       {Name: "GPT-5", Input: 3.0e-6, Output: 12.0e-6, Confidence: "high"},
}

// LookupPrice finds the price of model, ignoring a provider prefix such as
// "openai/".
func LookupPrice(model string) (Price, bool) {
	name := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	p, ok := Prices[name]
	return p, ok
}

// Estimate is the predicted usage for a set of files.
type Estimate struct {
	Model        string   `json:"model"`
	Files        int      `json:"files"`
	FileNames    []string `json:"fileNames"`
	Skipped      []string `json:"skipped,omitempty"`
	Languages    int      `json:"languages"`
	Blocks       int      `json:"blocks"`
	Chars        int      `json:"chars"`
	Batches      int      `json:"batches"`
	InputTokens  int64    `json:"inputTokens"`
	OutputTokens int64    `json:"outputTokens"`
	TotalTokens  int64    `json:"totalTokens"`
	CostUSD      float64  `json:"costUSD"`
	CostINR      float64  `json:"costINR"`
	Confidence   string   `json:"confidence"`

	// SourceLanguages counts files per detected source language.
	SourceLanguages map[string]int `json:"sourceLanguages"`
}

// Options tune batching the same way a real run would.
type Options struct {
	BatchSize int
	Languages int
}

// Analyze reads files and estimates the cost of translating each of them into
// opts.Languages languages with model. Unreadable files are skipped.
func Analyze(files []string, model string, opts Options) (Estimate, error) {
	if len(files) == 0 {
		return Estimate{}, fmt.Errorf("no subtitle files to analyze")
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 10
	}
	if opts.Languages < 1 {
		opts.Languages = 1
	}

	est := Estimate{Model: model, Languages: opts.Languages, SourceLanguages: map[string]int{}}
	var input, output float64
	for _, path := range files {
		sub, err := subtitle.ReadFile(path)
		if err != nil {
			log.Warn("Skipping %s: %v", path, err)
			est.Skipped = append(est.Skipped, filepath.Base(path))
			continue
		}
		blocks := sub.Blocks
		est.SourceLanguages[sub.Language.String()]++

		spoken := make([]subtitle.Block, 0, len(blocks))
		for _, b := range blocks {
			if !b.Silent() {
				spoken = append(spoken, b)
			}
		}
		chars := subtitle.CharCount(spoken)
		batches := (len(spoken) + opts.BatchSize - 1) / opts.BatchSize

		est.Files++
		est.FileNames = append(est.FileNames, filepath.Base(path))
		est.Blocks += len(spoken)
		est.Chars += chars
		est.Batches += batches * opts.Languages

		fileInput := float64(chars/charsPerToken + batches*promptTokens)
		input += fileInput * float64(opts.Languages)
		output += float64(chars/charsPerToken) * outputRatio * float64(opts.Languages)
	}
	if est.Files == 0 {
		return est, fmt.Errorf("none of the %d files could be read", len(files))
	}

	est.InputTokens = int64(input * safetyFactor)
	est.OutputTokens = int64(output * safetyFactor)
	est.TotalTokens = est.InputTokens + est.OutputTokens

	est.Confidence = "unknown"
	if price, ok := LookupPrice(model); ok {
		est.CostUSD = float64(est.InputTokens)*price.Input + float64(est.OutputTokens)*price.Output
		est.CostINR = est.CostUSD * USDToINR
		est.Confidence = price.Confidence
	}
	return est, nil
}
