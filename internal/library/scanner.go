// Package library inventories source subtitles and the translations that
// already exist for them.
package library

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/langs"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/file"
)

type scannerOptions struct {
	cacheTTL     time.Duration
	sourceSuffix string
}

type Option func(*scannerOptions)

func WithCacheTTL(ttl time.Duration) Option {
	return func(o *scannerOptions) {
		o.cacheTTL = ttl
	}
}

func WithSourceSuffix(suffix string) Option {
	return func(o *scannerOptions) {
		o.sourceSuffix = suffix
	}
}

type scanCache struct {
	version uint64
	scanned time.Time
	library *Library
}

type Scanner struct {
	sourceSuffix string

	mu            sync.RWMutex
	sourceDir     string
	outputRoot    string
	languages     []langs.Language
	cacheTTL      time.Duration
	cache         *scanCache
	configVersion uint64
}

func NewScanner(sourceDir, outputRoot string, languages []langs.Language, opts ...Option) *Scanner {
	options := scannerOptions{
		cacheTTL:     5 * time.Second,
		sourceSuffix: "EN",
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Scanner{
		sourceDir:    sourceDir,
		outputRoot:   outputRoot,
		languages:    append([]langs.Language(nil), languages...),
		sourceSuffix: options.sourceSuffix,
		cacheTTL:     options.cacheTTL,
	}
}

// Update points the scanner at new folders or languages and drops the cache.
func (s *Scanner) Update(sourceDir, outputRoot string, languages []langs.Language) {
	s.mu.Lock()
	s.sourceDir = sourceDir
	s.outputRoot = outputRoot
	s.languages = append([]langs.Language(nil), languages...)
	s.cache = nil
	s.configVersion++
	s.mu.Unlock()
}

func (s *Scanner) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.configVersion++
	s.mu.Unlock()
}

var sonarrPattern = regexp.MustCompile(`(?i)S\d+E(\d+)`)
var qualitySuffixPattern = regexp.MustCompile(`(?i)\s*[-. ](WEBRip|WEBDL|WEB-DL|BluRay|BDRip|HDRip|DVDRip|HDTV|AMZN|NF|DSNP|HULU|ATVP|PMTP|IT|DDP?\d|AAC|x264|x265|HEVC|H\.?264|H\.?265|10bit|\d{3,4}p).*$`)

// displayName shortens Sonarr-style names and drops the source suffix.
// e.g. "Gachiakuta - S01E15 - Clash! WEBRip-1080p_EN" -> "E15 Clash!"
func displayName(basename, sourceSuffix string) string {
	if sourceSuffix != "" {
		marker := "_" + strings.ToUpper(sourceSuffix)
		if len(basename) > len(marker) && strings.HasSuffix(strings.ToUpper(basename), marker) {
			basename = basename[:len(basename)-len(marker)]
		}
	}

	m := sonarrPattern.FindStringSubmatchIndex(basename)
	if m == nil {
		return basename
	}
	epNum := basename[m[2]:m[3]]
	after := strings.TrimSpace(basename[m[1]:])
	after = strings.TrimLeft(after, "-. ")
	after = qualitySuffixPattern.ReplaceAllString(after, "")
	after = strings.TrimSpace(after)
	if after != "" {
		return "E" + epNum + " " + after
	}
	return "E" + epNum
}

// Scan lists every .srt under the source folder, skipping the output root,
// and checks each expected output. Results are cached for the TTL.
func (s *Scanner) Scan(ctx context.Context) (*Library, error) {
	s.mu.RLock()
	version := s.configVersion
	if s.cache != nil && s.cache.version == version && (s.cacheTTL <= 0 || time.Since(s.cache.scanned) < s.cacheTTL) {
		cached := cloneLibrary(s.cache.library)
		s.mu.RUnlock()
		return cached, nil
	}
	sourceDir, outputRoot := s.sourceDir, s.outputRoot
	languages := append([]langs.Language(nil), s.languages...)
	s.mu.RUnlock()

	ret := &Library{
		SourceDir:  sourceDir,
		OutputRoot: outputRoot,
		Items:      make([]Item, 0),
		Coverage:   make([]Coverage, len(languages)),
		ScannedAt:  time.Now(),
	}
	for i, lang := range languages {
		ret.Coverage[i].Language = lang.Key
	}

	sources, err := file.FindByExt(sourceDir, ".srt")
	if err != nil {
		return nil, err
	}
	skip := outputPrefix(outputRoot)

	for _, path := range sources {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if skip != "" {
			if abs, err := filepath.Abs(path); err == nil && strings.HasPrefix(abs, skip) {
				continue
			}
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			rel = path
		}
		item := Item{
			ID:       filepath.ToSlash(rel),
			Name:     displayName(file.Stem(path), s.sourceSuffix),
			Folder:   filepath.ToSlash(filepath.Dir(rel)),
			Path:     path,
			Modified: info.ModTime(),
			Outputs:  make([]Output, 0, len(languages)),
		}

		for i, lang := range languages {
			out := Output{
				Language: lang.Key,
				Path:     langs.OutputPath(outputRoot, path, s.sourceSuffix, lang),
			}
			if outInfo, err := os.Stat(out.Path); err == nil {
				out.Exists = true
				out.Size = outInfo.Size()
				out.Modified = outInfo.ModTime()
				out.Stale = outInfo.ModTime().Before(info.ModTime())
				ret.Coverage[i].Translated++
				if out.Stale {
					ret.Coverage[i].Stale++
				}
			}
			ret.Coverage[i].Total++
			item.Outputs = append(item.Outputs, out)
		}
		ret.Items = append(ret.Items, item)
	}

	s.mu.Lock()
	if s.configVersion == version {
		s.cache = &scanCache{
			version: version,
			scanned: time.Now(),
			library: cloneLibrary(ret),
		}
	}
	s.mu.Unlock()

	return ret, nil
}

func outputPrefix(outputRoot string) string {
	if outputRoot == "" {
		return ""
	}
	abs, err := filepath.Abs(outputRoot)
	if err != nil {
		return ""
	}
	return abs + string(filepath.Separator)
}

func cloneLibrary(in *Library) *Library {
	if in == nil {
		return nil
	}
	out := &Library{
		SourceDir:  in.SourceDir,
		OutputRoot: in.OutputRoot,
		Items:      make([]Item, len(in.Items)),
		Coverage:   append([]Coverage(nil), in.Coverage...),
		ScannedAt:  in.ScannedAt,
	}
	for i, item := range in.Items {
		item.Outputs = append([]Output(nil), item.Outputs...)
		out.Items[i] = item
	}
	return out
}
