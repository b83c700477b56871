package validator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MimeLyc/subtitle-batch-translator/internal/langs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sourceSRT = `1
00:00:01,000 --> 00:00:02,000
Hello

2
00:00:02,500 --> 00:00:03,000

3
00:00:04,000 --> 00:00:05,500
Goodbye
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func lookup(t *testing.T, name string) langs.Language {
	t.Helper()
	lang, err := langs.Default().Lookup(name)
	require.NoError(t, err)
	return lang
}

func setup(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "src", "ep01_EN.srt")
	writeFile(t, source, sourceSRT)
	return source, filepath.Join(dir, "out")
}

func TestValidate_Passes(t *testing.T) {
	t.Parallel()

	source, out := setup(t)
	vi := lookup(t, "vietnamese")
	writeFile(t, langs.OutputPath(out, source, "EN", vi), `1
00:00:01,000 --> 00:00:02,000
Xin chào

2
00:00:02,500 --> 00:00:03,000

3
00:00:04,000 --> 00:00:05,500
Tạm biệt
`)

	reports := Validate([]string{source}, out, "EN", []langs.Language{vi})
	require.Len(t, reports, 1)
	assert.Equal(t, "vietnamese", reports[0].Language)
	require.Len(t, reports[0].Files, 1)

	result := reports[0].Files[0]
	assert.True(t, result.Passed, result.Reasons)
	assert.Equal(t, "ep01_EN.srt", result.Filename)
	assert.Equal(t, 3, result.SourceBlocks)
	assert.Equal(t, 3, result.OutputBlocks)
	assert.InDelta(t, 100.0, result.MatchRate, 1e-9)
	assert.True(t, reports[0].Passed())
}

func TestValidate_OutputMissing(t *testing.T) {
	t.Parallel()

	source, out := setup(t)
	reports := Validate([]string{source}, out, "EN", []langs.Language{lookup(t, "thai")})

	result := reports[0].Files[0]
	assert.False(t, result.Passed)
	assert.Equal(t, []string{ReasonOutputMissing}, result.Reasons)
	assert.Len(t, reports[0].Failed(), 1)
}

func TestValidate_BlockCountMismatch(t *testing.T) {
	t.Parallel()

	source, out := setup(t)
	vi := lookup(t, "vietnamese")
	writeFile(t, langs.OutputPath(out, source, "EN", vi), `1
00:00:01,000 --> 00:00:02,000
Xin chào
`)

	result := Validate([]string{source}, out, "EN", []langs.Language{vi})[0].Files[0]
	assert.False(t, result.Passed)
	assert.Equal(t, []string{"block count mismatch: source 3, output 1"}, result.Reasons)
	assert.Equal(t, 1, result.OutputBlocks)
}

func TestValidate_TimestampAndEmptyText(t *testing.T) {
	t.Parallel()

	source, out := setup(t)
	vi := lookup(t, "vietnamese")
	writeFile(t, langs.OutputPath(out, source, "EN", vi), `1
00:00:01,000 --> 00:00:02,100
Xin chào

2
00:00:02,500 --> 00:00:03,000

3
00:00:04,000 --> 00:00:05,500

`)

	result := Validate([]string{source}, out, "EN", []langs.Language{vi})[0].Files[0]
	assert.False(t, result.Passed)
	require.Len(t, result.Reasons, 2)
	assert.Contains(t, result.Reasons[0], "timestamp mismatch at block 1")
	assert.Equal(t, "empty translation at block 3", result.Reasons[1])
	assert.InDelta(t, 100.0/3.0, result.MatchRate, 1e-9)
}

func TestValidate_Deterministic(t *testing.T) {
	t.Parallel()

	source, out := setup(t)
	vi := lookup(t, "vietnamese")
	th := lookup(t, "thai")
	writeFile(t, langs.OutputPath(out, source, "EN", vi), "1\n00:00:01,000 --> 00:00:02,000\nXin chào\n")

	first := Validate([]string{source}, out, "EN", []langs.Language{vi, th})
	second := Validate([]string{source}, out, "EN", []langs.Language{vi, th})
	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, "thai", first[1].Language)
}

func TestValidateFile_UnreadableSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	result := ValidateFile(filepath.Join(dir, "missing.srt"), dir, "EN", lookup(t, "vietnamese"))
	assert.False(t, result.Passed)
	require.Len(t, result.Reasons, 1)
	assert.Contains(t, result.Reasons[0], "source unreadable")
}
