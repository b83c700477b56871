package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/ledger"
	"github.com/MimeLyc/subtitle-batch-translator/internal/persistence"
	"github.com/MimeLyc/subtitle-batch-translator/internal/retry"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
)

// stubClient translates by prefixing the language key. Behaviour can be
// adjusted per call through fail and delay.
type stubClient struct {
	mu       sync.Mutex
	calls    int
	requests []translator.BatchRequest

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	delay   time.Duration
	started chan struct{}
	gate    chan struct{}
	fail    func(call int, req translator.BatchRequest) error
	render  func(text string) string
}

func (s *stubClient) TranslateBatch(ctx context.Context, req translator.BatchRequest) ([]string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	if s.fail != nil {
		if err := s.fail(call, req); err != nil {
			return nil, err
		}
	}

	out := make([]string, len(req.Blocks))
	for i, b := range req.Blocks {
		if s.render != nil {
			out[i] = s.render(b.Text)
			continue
		}
		out[i] = req.Target.Key + ": " + b.Text
	}
	return out, nil
}

func (s *stubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingSleeper replaces backoff waits so tests run instantly.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func writeSRT(t *testing.T, path string, blocks int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	var b strings.Builder
	for i := 0; i < blocks; i++ {
		start := time.Duration(i) * 2 * time.Second
		fmt.Fprintf(&b, "%d\n%s --> %s\nLine number %d\n\n", i+1, ts(start), ts(start+1500*time.Millisecond), i+1)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func ts(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

type fixture struct {
	source  string
	output  string
	client  *stubClient
	sleeper *recordingSleeper
	ledger  *ledger.Ledger
	bus     *jobs.EventBus
	coord   *Coordinator
}

func newFixture(t *testing.T, client *stubClient) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		source:  filepath.Join(dir, "source"),
		output:  filepath.Join(dir, "output"),
		client:  client,
		sleeper: &recordingSleeper{},
		ledger:  ledger.New(),
		bus:     jobs.NewEventBus(10000),
	}

	f.useClient(client)
	return f
}

// useClient rebuilds the coordinator around client, which may wrap the stub.
func (f *fixture) useClient(client translator.Client) {
	opts := DefaultOptions()
	opts.DiscoverTermMaps = false
	opts.Retry = retry.Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Sleep:       f.sleeper.Sleep,
	}

	f.coord = NewCoordinator(
		func(RunRequest) (translator.Client, error) { return client, nil },
		f.ledger,
		WithOptions(opts),
		WithSink(f.bus.Sink()),
	)
}

// memoryStore is an in-memory translation cache.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func (s *memoryStore) GetTranslations(_ context.Context, keys []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := s.entries[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *memoryStore) PutTranslations(_ context.Context, entries []persistence.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string]string)
	}
	for _, e := range entries {
		s.entries[e.Key] = e.TranslatedText
	}
	return nil
}

func (f *fixture) settings() RunSettings {
	return RunSettings{OutputRoot: f.output, Model: "stub-model"}
}

func (f *fixture) translate(ctx context.Context, languages ...string) (*RunOutcome, error) {
	return f.coord.StartTranslation(ctx, TranslateRequest{
		RunSettings: f.settings(),
		SourceDir:   f.source,
		Languages:   languages,
	})
}

func (f *fixture) events(kind jobs.EventKind) []jobs.Event {
	var out []jobs.Event
	for _, e := range f.bus.Since(0) {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
