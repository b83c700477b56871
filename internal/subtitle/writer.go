package subtitle

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Serialize renders blocks as SRT using their source text.
func Serialize(blocks []Block) []byte {
	return serialize(blocks, func(b Block) string { return b.Text })
}

// SerializeTranslated renders blocks as SRT using their translated text.
func SerializeTranslated(blocks []Block) []byte {
	return serialize(blocks, func(b Block) string { return b.TranslatedText })
}

func serialize(blocks []Block, text func(Block) string) []byte {
	var buf bytes.Buffer
	for i, b := range blocks {
		fmt.Fprintf(&buf, "%d\n", i+1)
		fmt.Fprintf(&buf, "%s --> %s\n", FormatTimestamp(b.Start), FormatTimestamp(b.End))
		if body := cleanText(text(b)); body != "" {
			fmt.Fprintf(&buf, "%s\n", body)
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

// cleanText drops empty lines so a block body never terminates early.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// FormatTimestamp formats d as an SRT timestamp (HH:MM:SS,mmm).
func FormatTimestamp(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, milliseconds)
}
