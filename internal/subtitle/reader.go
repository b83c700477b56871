package subtitle

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// ErrNoBlocks is returned when the input holds no subtitle blocks.
var ErrNoBlocks = errors.New("no subtitle blocks found")

// SRT time format: 00:02:16,612 --> 00:02:19,376
var timeLineRe = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{3})`)

var indexLineRe = regexp.MustCompile(`^\d+$`)

// ReadFile reads and parses the SRT file at path and detects its language.
func ReadFile(path string) (*File, error) {
	if !strings.EqualFold(filepath.Ext(path), ".srt") {
		return nil, fmt.Errorf("only SRT format subtitle files are supported: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subtitle file: %w", err)
	}

	blocks, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &File{
		Path:     path,
		Blocks:   blocks,
		Language: DetectLanguage(blocks),
	}, nil
}

// Parse decodes SRT content. The numeric index line is optional; blocks are
// renumbered from 0 in file order. Blocks without text are kept.
func Parse(data []byte) ([]Block, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	var (
		blocks    []Block
		current   *Block
		textLines []string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.Join(textLines, "\n")
		blocks = append(blocks, *current)
		current = nil
		textLines = nil
	}

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		if current != nil {
			if line == "" {
				flush()
				continue
			}
			textLines = append(textLines, line)
			continue
		}

		if line == "" {
			continue
		}

		timeLine := line
		if indexLineRe.MatchString(line) && i+1 < len(lines) && strings.Contains(lines[i+1], "-->") {
			i++
			timeLine = strings.TrimSpace(lines[i])
		}

		if !strings.Contains(timeLine, "-->") {
			// stray text after a blank line belongs to the previous block
			if n := len(blocks); n > 0 {
				if blocks[n-1].Text == "" {
					blocks[n-1].Text = line
				} else {
					blocks[n-1].Text += "\n" + line
				}
				continue
			}
			return nil, fmt.Errorf("line %d: expected subtitle index or timing, got %q", i+1, line)
		}

		start, end, err := parseSRTTime(timeLine)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if start >= end {
			return nil, fmt.Errorf("line %d: start %s is not before end %s", i+1, FormatTimestamp(start), FormatTimestamp(end))
		}

		current = &Block{Index: len(blocks), Start: start, End: end}
	}
	flush()

	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}
	return blocks, nil
}

func parseSRTTime(timeString string) (time.Duration, time.Duration, error) {
	matches := timeLineRe.FindStringSubmatch(timeString)
	if len(matches) != 9 {
		return 0, 0, fmt.Errorf("invalid time format: %s", timeString)
	}

	parseTime := func(hours, minutes, seconds, milliseconds string) (time.Duration, error) {
		h, _ := strconv.Atoi(hours)
		m, _ := strconv.Atoi(minutes)
		s, _ := strconv.Atoi(seconds)
		ms, _ := strconv.Atoi(milliseconds)
		if m > 59 || s > 59 {
			return 0, fmt.Errorf("invalid time value: %s:%s:%s,%s", hours, minutes, seconds, milliseconds)
		}

		return time.Duration(h)*time.Hour +
			time.Duration(m)*time.Minute +
			time.Duration(s)*time.Second +
			time.Duration(ms)*time.Millisecond, nil
	}

	startTime, err := parseTime(matches[1], matches[2], matches[3], matches[4])
	if err != nil {
		return 0, 0, err
	}

	endTime, err := parseTime(matches[5], matches[6], matches[7], matches[8])
	if err != nil {
		return 0, 0, err
	}

	return startTime, endTime, nil
}

// DetectLanguage returns the most common language across block texts.
func DetectLanguage(blocks []Block) language.Tag {
	counts := make(map[string]int)
	for _, b := range blocks {
		if b.Silent() {
			continue
		}
		info := whatlanggo.Detect(b.Text)
		if !info.IsReliable() && len(blocks) > 1 {
			continue
		}
		counts[info.Lang.Iso6391()]++
	}

	var topLang string
	var topCount int
	for lang, count := range counts {
		if count > topCount || (count == topCount && lang < topLang) {
			topLang = lang
			topCount = count
		}
	}
	if topLang == "" {
		return language.Und
	}

	tag, err := language.Parse(topLang)
	if err != nil {
		return language.Und
	}
	return tag
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
