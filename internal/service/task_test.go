package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/langs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/ledger"
	"github.com/MimeLyc/subtitle-batch-translator/internal/retry"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/termmap"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
)

func textBlocks(texts ...string) []subtitle.Block {
	out := make([]subtitle.Block, len(texts))
	for i, text := range texts {
		out[i] = subtitle.Block{Index: i, Start: time.Duration(i) * time.Second, End: time.Duration(i+1) * time.Second, Text: text}
	}
	return out
}

func TestPartition_BySize(t *testing.T) {
	t.Parallel()

	texts := make([]string, 25)
	for i := range texts {
		texts[i] = "line"
	}
	batches := partition(textBlocks(texts...), 10, 6000)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)
	assert.Equal(t, 20, batches[2][0].Index)
}

func TestPartition_ByCharsAndSilent(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 40)
	batches := partition(textBlocks(long, "", long, long, "  "), 10, 100)
	require.Len(t, batches, 2)
	assert.Equal(t, []int{0, 2}, []int{batches[0][0].Index, batches[0][1].Index})
	assert.Equal(t, 3, batches[1][0].Index)
}

func TestPartition_OversizedBlockStandsAlone(t *testing.T) {
	t.Parallel()

	batches := partition(textBlocks(strings.Repeat("y", 500), "short"), 10, 100)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 1)
}

func newTestTask(client translator.Client, opts Options, sink jobs.Sink, progress func(jobs.Job, int)) *FileTask {
	return NewFileTask(TaskConfig{
		Client:   client,
		Options:  opts,
		Model:    "stub-model",
		Sink:     sink,
		Progress: progress,
	})
}

func fastOptions(sleeper *recordingSleeper) Options {
	opts := DefaultOptions()
	opts.DiscoverTermMaps = false
	opts.Retry = retry.Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: time.Minute, Sleep: sleeper.Sleep}
	return opts
}

func TestFileTask_SilentBlocksAreNotSent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "a_EN.srt")
	require.NoError(t, os.WriteFile(source, []byte("1\n00:00:01,000 --> 00:00:02,000\nHi\n\n2\n00:00:03,000 --> 00:00:04,000\n\n3\n00:00:05,000 --> 00:00:06,000\nBye\n"), 0o644))

	client := &stubClient{}
	var reported int
	task := newTestTask(client, fastOptions(&recordingSleeper{}), nil, func(_ jobs.Job, n int) { reported += n })

	job := jobs.Job{ID: "job-1", Pair: jobs.Pair{SourceFile: source, Language: "vietnamese"}, OutputPath: filepath.Join(dir, "out", "a_VI.srt"), Blocks: 3}
	res := task.Run(context.Background(), job)
	require.Equal(t, OutcomeSuccess, res.Outcome, res.Failure)

	require.Len(t, client.requests, 1)
	require.Len(t, client.requests[0].Blocks, 2)
	assert.Equal(t, "Hi", client.requests[0].Blocks[0].Text)
	assert.Equal(t, "Bye", client.requests[0].Blocks[1].Text)
	assert.Equal(t, "stub-model", client.requests[0].Model)
	assert.Equal(t, 3, reported)

	data, err := os.ReadFile(job.OutputPath)
	require.NoError(t, err)
	blocks, err := subtitle.Parse(data)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, "", blocks[1].Text)
	assert.Equal(t, "vietnamese: Bye", blocks[2].Text)
}

func TestFileTask_LaterBatchFailureWritesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "a_EN.srt")
	writeSRT(t, source, 15)

	client := &stubClient{fail: func(call int, _ translator.BatchRequest) error {
		if call == 2 {
			return &translator.ClientError{Kind: translator.KindOther, Message: "bad request"}
		}
		return nil
	}}
	task := newTestTask(client, fastOptions(&recordingSleeper{}), nil, nil)

	job := jobs.Job{ID: "job-1", Pair: jobs.Pair{SourceFile: source, Language: "thai"}, OutputPath: filepath.Join(dir, "out", "a_TH.srt"), Blocks: 15}
	res := task.Run(context.Background(), job)
	require.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, ledger.KindUnknown, res.Failure.Kind)
	assert.False(t, res.Failure.Recoverable)
	assert.Equal(t, 2, client.Calls())

	_, err := os.Stat(job.OutputPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFileTask_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "a_EN.srt")
	writeSRT(t, source, 2)

	client := &stubClient{fail: func(call int, _ translator.BatchRequest) error {
		if call <= 2 {
			return &translator.ClientError{Kind: translator.KindRateLimited, Message: "slow down", StatusCode: 429}
		}
		return nil
	}}
	sleeper := &recordingSleeper{}
	bus := jobs.NewEventBus(100)
	task := newTestTask(client, fastOptions(sleeper), bus.Sink(), nil)

	job := jobs.Job{ID: "job-7", Pair: jobs.Pair{SourceFile: source, Language: "malay"}, OutputPath: filepath.Join(dir, "out", "a_MS.srt"), Blocks: 2}
	res := task.Run(context.Background(), job)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())

	var retries int
	for _, e := range bus.Since(0) {
		if e.Kind == jobs.EventStatus && strings.HasPrefix(e.Message, "Retry ") {
			retries++
			assert.Equal(t, "job-7", e.JobID)
			require.NotNil(t, e.Pair)
			assert.Equal(t, "malay", e.Pair.Language)
		}
	}
	assert.Equal(t, 2, retries)
}

func TestFileTask_TimeoutMapsToTimeoutKind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "a_EN.srt")
	writeSRT(t, source, 1)

	client := &stubClient{fail: func(int, translator.BatchRequest) error {
		return &translator.ClientError{Kind: translator.KindTimedOut, Message: "slow"}
	}}
	task := newTestTask(client, fastOptions(&recordingSleeper{}), nil, nil)

	res := task.Run(context.Background(), jobs.Job{Pair: jobs.Pair{SourceFile: source, Language: "vietnamese"}, OutputPath: filepath.Join(dir, "o.srt")})
	require.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, ledger.KindTimeout, res.Failure.Kind)
	assert.True(t, res.Failure.Recoverable)
	assert.Equal(t, 3, res.Failure.RetryCount)
}

func TestFileTask_MissingSourceIsFileReadError(t *testing.T) {
	t.Parallel()

	client := &stubClient{}
	task := newTestTask(client, fastOptions(&recordingSleeper{}), nil, nil)

	res := task.Run(context.Background(), jobs.Job{Pair: jobs.Pair{SourceFile: filepath.Join(t.TempDir(), "gone.srt"), Language: "vietnamese"}})
	require.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, ledger.KindFileRead, res.Failure.Kind)
	assert.False(t, res.Failure.Recoverable)
	assert.Equal(t, 0, client.Calls())
}

func TestFileTask_DiscoversTermMap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	show := filepath.Join(dir, "show")
	source := filepath.Join(show, "season1", "ep01_EN.srt")
	require.NoError(t, os.MkdirAll(filepath.Dir(source), 0o755))
	require.NoError(t, os.WriteFile(source, []byte("1\n00:00:01,000 --> 00:00:02,000\nLan runs to Hanoi\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(show, termmap.Filename("en", "vi")), []byte(`{"Hanoi":"Hà Nội"}`), 0o644))

	client := &stubClient{}
	opts := fastOptions(&recordingSleeper{})
	opts.DiscoverTermMaps = true
	opts.Terms = termmap.TermMap{"Lan": "Lan"}
	task := newTestTask(client, opts, nil, nil)

	lang, err := langs.Default().Lookup("vietnamese")
	require.NoError(t, err)
	out := langs.OutputPath(filepath.Join(dir, "out"), source, "EN", lang)

	res := task.Run(context.Background(), jobs.Job{Pair: jobs.Pair{SourceFile: source, Language: "vietnamese"}, OutputPath: out})
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Len(t, client.requests, 1)
	assert.Equal(t, termmap.TermMap{"Hanoi": "Hà Nội", "Lan": "Lan"}, client.requests[0].Terms)
}

func TestFileTask_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &stubClient{}
	task := newTestTask(client, fastOptions(&recordingSleeper{}), nil, nil)
	res := task.Run(ctx, jobs.Job{Pair: jobs.Pair{SourceFile: "a.srt", Language: "vietnamese"}})
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, 0, client.Calls())
}

type panicClient struct{}

func (panicClient) TranslateBatch(context.Context, translator.BatchRequest) ([]string, error) {
	panic("boom")
}

func TestFileTask_PanicBecomesFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "a_EN.srt")
	writeSRT(t, source, 1)

	task := newTestTask(panicClient{}, fastOptions(&recordingSleeper{}), nil, nil)
	res := task.Run(context.Background(), jobs.Job{Pair: jobs.Pair{SourceFile: source, Language: "vietnamese"}, OutputPath: filepath.Join(dir, "o.srt")})
	require.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, ledger.KindUnknown, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "boom")
}
