// Package validator checks translated subtitle files against their sources.
package validator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/internal/langs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
)

const ReasonOutputMissing = "output missing"

// maxReasons bounds per-block reasons listed for one file.
const maxReasons = 20

// FileResult is the outcome for one (source file, language) pair.
type FileResult struct {
	Filename     string   `json:"filename"`
	SourceFile   string   `json:"sourceFile"`
	OutputFile   string   `json:"outputFile"`
	Passed       bool     `json:"passed"`
	Reasons      []string `json:"reasons,omitempty"`
	SourceBlocks int      `json:"sourceBlocks"`
	OutputBlocks int      `json:"outputBlocks"`
	MatchRate    float64  `json:"matchRate"`
}

// Report groups file results for one language, in source file order.
type Report struct {
	Language string       `json:"language"`
	Files    []FileResult `json:"files"`
}

// Failed returns the files that did not pass.
func (r Report) Failed() []FileResult {
	var failed []FileResult
	for _, f := range r.Files {
		if !f.Passed {
			failed = append(failed, f)
		}
	}
	return failed
}

// Passed reports whether every file in the report passed.
func (r Report) Passed() bool {
	return len(r.Failed()) == 0
}

type sourceResult struct {
	blocks []subtitle.Block
	err    error
}

// Validate compares every expected output file with its source. It never
// writes and returns one report per language, in the order given.
func Validate(sourceFiles []string, outputRoot, sourceSuffix string, languages []langs.Language) []Report {
	sources := make([]sourceResult, len(sourceFiles))
	for i, path := range sourceFiles {
		sources[i] = readSource(path)
	}

	reports := make([]Report, 0, len(languages))
	for _, lang := range languages {
		report := Report{Language: lang.Key, Files: make([]FileResult, 0, len(sourceFiles))}
		for i, path := range sourceFiles {
			outputPath := langs.OutputPath(outputRoot, path, sourceSuffix, lang)
			report.Files = append(report.Files, validatePair(path, outputPath, sources[i]))
		}
		reports = append(reports, report)
	}
	return reports
}

// ValidateFile checks a single pair.
func ValidateFile(sourceFile, outputRoot, sourceSuffix string, lang langs.Language) FileResult {
	return validatePair(sourceFile, langs.OutputPath(outputRoot, sourceFile, sourceSuffix, lang), readSource(sourceFile))
}

func readSource(path string) sourceResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return sourceResult{err: err}
	}
	blocks, err := subtitle.Parse(data)
	return sourceResult{blocks: blocks, err: err}
}

func validatePair(sourcePath, outputPath string, source sourceResult) FileResult {
	result := FileResult{
		Filename:   filepath.Base(sourcePath),
		SourceFile: sourcePath,
		OutputFile: outputPath,
	}

	if source.err != nil {
		result.Reasons = []string{fmt.Sprintf("source unreadable: %v", source.err)}
		return result
	}
	result.SourceBlocks = len(source.blocks)

	data, err := os.ReadFile(outputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Reasons = []string{ReasonOutputMissing}
		} else {
			result.Reasons = []string{fmt.Sprintf("output unreadable: %v", err)}
		}
		return result
	}

	output, err := subtitle.Parse(data)
	if err != nil && !errors.Is(err, subtitle.ErrNoBlocks) {
		result.Reasons = []string{fmt.Sprintf("output unparseable: %v", err)}
		return result
	}
	result.OutputBlocks = len(output)

	if len(output) != len(source.blocks) {
		result.Reasons = []string{fmt.Sprintf("block count mismatch: source %d, output %d", len(source.blocks), len(output))}
		return result
	}

	var (
		badBlocks int
		omitted   int
	)
	addReason := func(reason string) {
		if len(result.Reasons) < maxReasons {
			result.Reasons = append(result.Reasons, reason)
		} else {
			omitted++
		}
	}

	for i, src := range source.blocks {
		out := output[i]
		switch {
		case src.Start != out.Start || src.End != out.End:
			addReason(fmt.Sprintf("timestamp mismatch at block %d: source %s --> %s, output %s --> %s",
				i+1,
				subtitle.FormatTimestamp(src.Start), subtitle.FormatTimestamp(src.End),
				subtitle.FormatTimestamp(out.Start), subtitle.FormatTimestamp(out.End)))
			badBlocks++
		case !src.Silent() && strings.TrimSpace(out.Text) == "":
			addReason(fmt.Sprintf("empty translation at block %d", i+1))
			badBlocks++
		}
	}
	if omitted > 0 {
		result.Reasons = append(result.Reasons, fmt.Sprintf("... and %d more", omitted))
	}

	if len(source.blocks) > 0 {
		result.MatchRate = float64(len(source.blocks)-badBlocks) / float64(len(source.blocks)) * 100
	}
	result.Passed = badBlocks == 0
	return result
}
