package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pair(file, lang string) jobs.Pair {
	return jobs.Pair{SourceFile: file, Language: lang}
}

func TestRecordLatestWins(t *testing.T) {
	l := New()
	l.Record(*NewRecord(KindAPI, pair("a.srt", "vi"), "rate limited", true).WithRetries(3).WithCause("rateLimited"))
	l.Record(*NewRecord(KindFileWrite, pair("b.srt", "vi"), "disk full", true))
	l.Record(*NewRecord(KindTimeout, pair("a.srt", "vi"), "timed out", true).WithRetries(3))

	assert.Equal(t, []jobs.Pair{pair("a.srt", "vi"), pair("b.srt", "vi")}, l.ListFailed())

	got, ok := l.Get(pair("a.srt", "vi"))
	require.True(t, ok)
	assert.Equal(t, KindTimeout, got.Kind)
	assert.Equal(t, "timed out", got.Message)
	assert.Empty(t, got.Cause)
	assert.False(t, got.Timestamp.IsZero())
}

func TestRemoveAndClear(t *testing.T) {
	l := New()
	l.Record(*NewRecord(KindAPI, pair("a.srt", "vi"), "x", true))
	l.Record(*NewRecord(KindAPI, pair("a.srt", "th"), "x", true))

	assert.True(t, l.Remove(pair("a.srt", "vi")))
	assert.False(t, l.Remove(pair("a.srt", "vi")))
	assert.Equal(t, []jobs.Pair{pair("a.srt", "th")}, l.ListFailed())
	assert.False(t, l.Has(pair("a.srt", "vi")))

	l.Record(*NewRecord(KindAPI, pair("a.srt", "vi"), "again", true))
	assert.Equal(t, []jobs.Pair{pair("a.srt", "th"), pair("a.srt", "vi")}, l.ListFailed())

	l.Clear()
	assert.Empty(t, l.ListFailed())
	assert.Equal(t, 0, l.Len())
}

func TestFileLevelRecordWithoutLanguage(t *testing.T) {
	l := New()
	l.Record(*NewRecord(KindParsing, pair("bad.srt", ""), "invalid timing", false))

	r, ok := l.Get(pair("bad.srt", ""))
	require.True(t, ok)
	assert.Equal(t, "[parsingError] invalid timing | context: file=bad.srt", r.Error())
}

func TestSummary(t *testing.T) {
	l := New()
	l.Record(*NewRecord(KindAPI, pair("a.srt", "vi"), "auth", false).WithSeverity(SeverityCritical))
	l.Record(*NewRecord(KindValidation, pair("b.srt", "vi"), "count", true))
	l.Record(*NewRecord(KindAPI, pair("c.srt", "vi"), "busy", true))

	s := l.Summary()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Recoverable)
	assert.Equal(t, 2, s.ByKind[KindAPI])
	assert.Equal(t, 1, s.BySeverity[SeverityWarning])
	assert.Equal(t, 1, s.BySeverity[SeverityCritical])
}

func TestExportJSON(t *testing.T) {
	l := New()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	l.Record(*NewRecord(KindTimeout, pair("a.srt", "vi"), "slow", true).WithRetries(3))

	var buf bytes.Buffer
	require.NoError(t, l.ExportJSON(&buf))

	var decoded struct {
		Summary struct {
			Total int `json:"total"`
		} `json:"summary"`
		Errors []Record `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 1, decoded.Summary.Total)
	require.Len(t, decoded.Errors, 1)
	assert.Equal(t, KindTimeout, decoded.Errors[0].Kind)
	assert.Equal(t, 3, decoded.Errors[0].RetryCount)
	assert.Contains(t, buf.String(), `"kind": "timeoutError"`)
	assert.Contains(t, buf.String(), `"timeoutError": 1`)
}

func TestConcurrentRecords(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Record(*NewRecord(KindAPI, pair(fmt.Sprintf("f%d.srt", i%10), "vi"), "x", true))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, l.Len())
	assert.Len(t, l.ListFailed(), 10)
}

func TestKindText(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("fileWriteError")))
	assert.Equal(t, KindFileWrite, k)
	assert.Error(t, k.UnmarshalText([]byte("nope")))
	assert.NotEmpty(t, KindParsing.Advice())
}
