package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
)

type fakeScheduler struct {
	called bool
}

func (f *fakeScheduler) Schedule(context.Context) error {
	f.called = true
	return nil
}

type fakeCron struct {
	started bool
	stopped bool
}

func (f *fakeCron) Start() {
	f.started = true
}

func (f *fakeCron) Stop() context.Context {
	f.stopped = true
	return context.Background()
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	addr         string
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(addr string) error {
	f.addr = addr
	close(f.listenCalled)
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func TestRunWithComponents_StartsCronAndHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &fakeScheduler{}
	cronEngine := &fakeCron{}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, "127.0.0.1:0", sched, cronEngine, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.Equal(t, "127.0.0.1:0", httpSrv.addr)
	assert.True(t, sched.called)
	assert.True(t, cronEngine.started)
	assert.True(t, cronEngine.stopped)
}

type failingHTTP struct{}

func (failingHTTP) ListenAndServe(string) error    { return errors.New("address in use") }
func (failingHTTP) Shutdown(context.Context) error { return nil }

func TestRunWithComponents_WithoutSchedulerReturnsServerError(t *testing.T) {
	err := runWithComponents(context.Background(), ":1", nil, nil, failingHTTP{})
	assert.EqualError(t, err, "address in use")
}

func TestWatchInterrupts(t *testing.T) {
	t.Run("first signal cancels and second aborts", func(t *testing.T) {
		sig := make(chan os.Signal, 2)
		var cancels, aborts int32
		done := make(chan struct{})
		go func() {
			watchInterrupts(sig,
				func() error { atomic.AddInt32(&cancels, 1); return nil },
				func() { atomic.AddInt32(&aborts, 1) })
			close(done)
		}()

		sig <- os.Interrupt
		require.Eventually(t, func() bool { return atomic.LoadInt32(&cancels) == 1 }, time.Second, 5*time.Millisecond)
		assert.Zero(t, atomic.LoadInt32(&aborts))

		sig <- os.Interrupt
		<-done
		assert.Equal(t, int32(1), atomic.LoadInt32(&aborts))
	})

	t.Run("no active run aborts at once", func(t *testing.T) {
		sig := make(chan os.Signal, 1)
		aborted := false
		sig <- os.Interrupt
		watchInterrupts(sig, func() error { return service.ErrNoActiveRun }, func() { aborted = true })
		assert.True(t, aborted)
	})

	t.Run("closed channel returns", func(t *testing.T) {
		sig := make(chan os.Signal)
		close(sig)
		watchInterrupts(sig, func() error { t.Fatal("cancel called"); return nil }, func() { t.Fatal("abort called") })
	})
}

// fakeLLM answers chat completions by prefixing every line with "es: ".
func fakeLLM(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var payload struct {
			Lines []struct {
				Index int    `json:"index"`
				Text  string `json:"text"`
			} `json:"lines"`
		}
		for _, m := range req.Messages {
			if m.Role == "user" {
				_ = json.Unmarshal([]byte(m.Content), &payload)
			}
		}
		type line struct {
			Index int    `json:"index"`
			Text  string `json:"text"`
		}
		out := make([]line, 0, len(payload.Lines))
		for _, l := range payload.Lines {
			out = append(out, line{Index: l.Index, Text: "es: " + l.Text})
		}
		content, _ := json.Marshal(map[string]any{"translations": out})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": string(content)}},
			},
		})
	}))
}

func isolateConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("SUBBATCH_CONFIG", "")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("LOG_FILE", "")
	t.Setenv("TARGET_LANGUAGES", "")
	t.Setenv("SOURCE_DIR", "")
	t.Setenv("OUTPUT_DIR", "")
	t.Setenv("CRON_EXPR", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const sampleSRT = `1
00:00:01,000 --> 00:00:02,000
Hello there

2
00:00:03,000 --> 00:00:04,000
How are you?
`

func TestTranslateCommand_WritesOutputs(t *testing.T) {
	isolateConfig(t)
	var calls int32
	srv := fakeLLM(t, &calls)
	defer srv.Close()
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("LLM_API_URL", srv.URL)

	root := t.TempDir()
	source := filepath.Join(root, "src")
	output := filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(source, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "ep1_EN.srt"), []byte(sampleSRT), 0o644))

	stdout, err := execute(t, "translate", "--source", source, "--output", output, "--lang", "spanish")
	require.NoError(t, err)
	assert.Contains(t, stdout, "completed")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	data, err := os.ReadFile(filepath.Join(output, "Spanish", "ep1_ES.srt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "es: Hello there")
	assert.Contains(t, string(data), "00:00:03,000 --> 00:00:04,000")

	stdout, err = execute(t, "validate", "--source", source, "--output", output, "--lang", "spanish")
	require.NoError(t, err)
	assert.Contains(t, stdout, "spanish")

	stdout, err = execute(t, "status", "--source", source, "--output", output, "--lang", "spanish,french", "-v")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 source files")
	assert.Contains(t, stdout, "ep1_EN.srt")
	assert.Contains(t, stdout, "french")
}

func TestTranslateCommand_ProviderFailureRecordsLedger(t *testing.T) {
	isolateConfig(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	t.Setenv("LLM_API_KEY", "wrong")
	t.Setenv("LLM_API_URL", srv.URL)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ep1_EN.srt"), []byte(sampleSRT), 0o644))
	output := filepath.Join(root, "out")
	ledgerPath := filepath.Join(root, "errors.json")

	stdout, err := execute(t, "translate", "--source", root, "--output", output, "--lang", "spanish", "--errors-json", ledgerPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 failed pairs")
	assert.Contains(t, stdout, "Failed pairs")
	assert.NoFileExists(t, filepath.Join(output, "Spanish", "ep1_ES.srt"))

	data, err := os.ReadFile(ledgerPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ep1_EN.srt")
}

func TestTranslateCommand_RequiresAPIKey(t *testing.T) {
	isolateConfig(t)
	t.Setenv("LLM_API_KEY", "")

	_, err := execute(t, "translate", "--source", t.TempDir(), "--output", t.TempDir(), "--lang", "spanish")
	assert.ErrorContains(t, err, "LLM_API_KEY")
}

func TestTranslateCommand_MissingFolders(t *testing.T) {
	isolateConfig(t)
	t.Setenv("LLM_API_KEY", "k")

	_, err := execute(t, "translate", "--lang", "spanish")
	assert.ErrorContains(t, err, "missing --source and --output")
}

func TestAnalyzeCommand_JSON(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.srt")
	require.NoError(t, os.WriteFile(path, []byte(sampleSRT), 0o644))

	stdout, err := execute(t, "analyze", "--json", "--model", "gpt-4o-mini", "--lang", "spanish,french", path)
	require.NoError(t, err)

	var est struct {
		Files     int    `json:"files"`
		Languages int    `json:"languages"`
		Blocks    int    `json:"blocks"`
		Model     string `json:"model"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &est))
	assert.Equal(t, 1, est.Files)
	assert.Equal(t, 2, est.Languages)
	assert.Equal(t, 2, est.Blocks)
	assert.Equal(t, "gpt-4o-mini", est.Model)
}

func TestLanguagesCommand(t *testing.T) {
	isolateConfig(t)
	stdout, err := execute(t, "languages")
	require.NoError(t, err)
	assert.Contains(t, stdout, "hinglish")
	assert.Contains(t, stdout, "Spanish")
}

func TestConfigShowRedactsKey(t *testing.T) {
	isolateConfig(t)
	t.Setenv("LLM_API_KEY", "super-secret")

	stdout, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "super-secret")
	assert.Contains(t, stdout, "***")
}

func TestVersionSkipsConfig(t *testing.T) {
	isolateConfig(t)
	t.Setenv("SUBBATCH_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	stdout, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "subbatch "))
}

func TestCacheCommands(t *testing.T) {
	isolateConfig(t)
	t.Setenv("CACHE_ENABLED", "true")
	t.Setenv("CACHE_PATH", filepath.Join(t.TempDir(), "cache.db"))

	stdout, err := execute(t, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 entries, last updated never")

	stdout, err = execute(t, "cache", "purge", "--older-than", "0s")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Removed 0 entries")
}

func TestConfigCheck(t *testing.T) {
	isolateConfig(t)
	var calls int32
	srv := fakeLLM(t, &calls)
	defer srv.Close()
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("LLM_API_URL", srv.URL)
	t.Setenv("LLM_MODEL", "test-model")

	stdout, err := execute(t, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "test-model answered")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
