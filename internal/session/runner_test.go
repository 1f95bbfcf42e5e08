package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel/internal/config"
	"github.com/sells-group/compintel/internal/extract"
	"github.com/sells-group/compintel/internal/lock"
	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/modelclient"
	"github.com/sells-group/compintel/internal/normalize"
)

type fakeExtractor struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	calls    map[string]int
	sessions map[string]bool
	delay    time.Duration
	fn       func(page model.PageRecord, attempt int) extract.Result
}

func newFakeExtractor(fn func(page model.PageRecord, attempt int) extract.Result) *fakeExtractor {
	return &fakeExtractor{
		calls:    make(map[string]int),
		sessions: make(map[string]bool),
		fn:       fn,
	}
}

func (f *fakeExtractor) Extract(_ context.Context, page model.PageRecord, sessionID string) extract.Result {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.calls[page.URL]++
	attempt := f.calls[page.URL]
	f.sessions[sessionID] = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.fn(page, attempt)
}

type mergeCall struct {
	competitor string
	set        model.EntitySet
	meta       model.SourceMeta
}

type fakeMerger struct {
	mu     sync.Mutex
	calls  []mergeCall
	errFor map[string]error // keyed by source URL
}

func (f *fakeMerger) NormalizeAndUpsert(_ context.Context, competitor, _ string, set model.EntitySet, meta model.SourceMeta) (*normalize.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mergeCall{competitor: competitor, set: set, meta: meta})
	if err, ok := f.errFor[meta.URL]; ok {
		return &normalize.Result{}, err
	}
	return &normalize.Result{Processed: set.Count(), Created: set.Count()}, nil
}

type fakeReleaser struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeReleaser) ReleaseSession(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func successResult(conf float64) extract.Result {
	return extract.Result{
		Success:    true,
		Method:     model.MethodRules,
		Confidence: conf,
		Entities:   model.EntitySet{Products: []model.Product{{Name: "Widget", Confidence: conf}}},
	}
}

func page(url, competitor string) model.PageRecord {
	return model.PageRecord{
		URL:         url,
		PageType:    model.PageProduct,
		ContentHash: "hash-" + url,
		Competitor:  competitor,
		Text:        "Widget v2.1",
	}
}

func TestRunner_ExtractsAndMergesAllPages(t *testing.T) {
	ext := newFakeExtractor(func(_ model.PageRecord, _ int) extract.Result {
		return successResult(0.8)
	})
	merger := &fakeMerger{}
	releaser := &fakeReleaser{}
	events := make(chan Event, 32)
	r := NewRunner(ext, merger, releaser, config.SessionConfig{MaxConcurrentPages: 2}, events)

	pages := []model.PageRecord{
		page("https://acme.com/a", "acme"),
		page("https://acme.com/b", "acme"),
		page("https://acme.com/c", "acme"),
	}
	rep, err := r.Run(context.Background(), pages)

	require.NoError(t, err)
	assert.Equal(t, 3, rep.PagesProcessed)
	assert.Equal(t, 3, rep.PagesExtracted)
	assert.Empty(t, rep.PagesFailed)
	assert.Equal(t, 3, rep.Created)
	assert.False(t, rep.Partial)
	assert.Len(t, merger.calls, 3)
	assert.NotEmpty(t, rep.SessionID)

	// Session id flows to the extractor and is released once at the end.
	assert.True(t, ext.sessions[rep.SessionID])
	assert.Equal(t, []string{rep.SessionID}, releaser.ids)

	close(events)
	kinds := map[EventKind]int{}
	for ev := range events {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 3, kinds[EventPageExtracted])
	assert.Equal(t, 3, kinds[EventPageMerged])
	assert.Equal(t, 1, kinds[EventSessionDone])
}

func TestRunner_ConcurrencyIsBounded(t *testing.T) {
	ext := newFakeExtractor(func(_ model.PageRecord, _ int) extract.Result {
		return successResult(0.8)
	})
	ext.delay = 10 * time.Millisecond
	r := NewRunner(ext, &fakeMerger{}, nil, config.SessionConfig{MaxConcurrentPages: 2}, nil)

	pages := make([]model.PageRecord, 6)
	for i := range pages {
		pages[i] = page("https://acme.com/p"+string(rune('a'+i)), "acme")
	}
	_, err := r.Run(context.Background(), pages)

	require.NoError(t, err)
	assert.LessOrEqual(t, ext.maxSeen, 2)
}

func TestRunner_FailedPageRecordedOthersMerge(t *testing.T) {
	bad := &modelclient.ModelError{Kind: modelclient.KindValidation, Err: errors.New("unrepairable")}
	ext := newFakeExtractor(func(p model.PageRecord, _ int) extract.Result {
		if p.URL == "https://acme.com/bad" {
			return extract.Result{Method: model.MethodAI, Err: bad}
		}
		return successResult(0.8)
	})
	merger := &fakeMerger{}
	r := NewRunner(ext, merger, nil, config.SessionConfig{MaxConcurrentPages: 1}, nil)

	rep, err := r.Run(context.Background(), []model.PageRecord{
		page("https://acme.com/bad", "acme"),
		page("https://acme.com/good", "acme"),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, rep.PagesExtracted)
	require.Len(t, rep.PagesFailed, 1)
	assert.Equal(t, "https://acme.com/bad", rep.PagesFailed[0].URL)
	assert.Equal(t, "permanent", rep.PagesFailed[0].ErrorType)
	assert.False(t, rep.PagesFailed[0].CanRetry())
	require.Len(t, merger.calls, 1)
	assert.Equal(t, "https://acme.com/good", merger.calls[0].meta.URL)
}

func TestRunner_RateLimitedRetriesThenSucceeds(t *testing.T) {
	limited := &modelclient.ModelError{Kind: modelclient.KindRateLimited, StatusCode: 429, Err: errors.New("429")}
	ext := newFakeExtractor(func(_ model.PageRecord, attempt int) extract.Result {
		if attempt == 1 {
			return extract.Result{Method: model.MethodAI, Err: limited}
		}
		return successResult(0.8)
	})
	merger := &fakeMerger{}
	r := NewRunner(ext, merger, nil, config.SessionConfig{MaxConcurrentPages: 1}, nil)
	r.rateLimitBackoff = time.Millisecond

	rep, err := r.Run(context.Background(), []model.PageRecord{page("https://acme.com/a", "acme")})

	require.NoError(t, err)
	assert.Equal(t, 2, ext.calls["https://acme.com/a"])
	assert.Equal(t, 1, rep.PagesExtracted)
	assert.Empty(t, rep.PagesFailed)
	assert.Len(t, merger.calls, 1)
}

func TestRunner_RateLimitExhaustedIsTransientFailure(t *testing.T) {
	limited := &modelclient.ModelError{Kind: modelclient.KindRateLimited, StatusCode: 429, Err: errors.New("429")}
	ext := newFakeExtractor(func(_ model.PageRecord, _ int) extract.Result {
		return extract.Result{Method: model.MethodAI, Err: limited}
	})
	r := NewRunner(ext, &fakeMerger{}, nil, config.SessionConfig{MaxConcurrentPages: 1}, nil)
	r.rateLimitBackoff = time.Millisecond

	rep, err := r.Run(context.Background(), []model.PageRecord{page("https://acme.com/a", "acme")})

	require.NoError(t, err)
	assert.Equal(t, 1+rateLimitRetries, ext.calls["https://acme.com/a"])
	require.Len(t, rep.PagesFailed, 1)
	assert.Equal(t, "transient", rep.PagesFailed[0].ErrorType)
	assert.True(t, rep.PagesFailed[0].CanRetry())
}

func TestRunner_LowConfidenceNotMerged(t *testing.T) {
	ext := newFakeExtractor(func(_ model.PageRecord, _ int) extract.Result {
		return extract.Result{Method: model.MethodRules, Confidence: 0.2}
	})
	merger := &fakeMerger{}
	r := NewRunner(ext, merger, nil, config.SessionConfig{MaxConcurrentPages: 1}, nil)

	rep, err := r.Run(context.Background(), []model.PageRecord{page("https://acme.com/about", "acme")})

	require.NoError(t, err)
	assert.Empty(t, merger.calls)
	require.Len(t, rep.PagesFailed, 1)
	assert.Contains(t, rep.PagesFailed[0].Error, "confidence")
	assert.Equal(t, "permanent", rep.PagesFailed[0].ErrorType)
}

func TestRunner_LockTimeoutFailsCompetitorBatch(t *testing.T) {
	ext := newFakeExtractor(func(_ model.PageRecord, _ int) extract.Result {
		return successResult(0.8)
	})
	merger := &fakeMerger{errFor: map[string]error{
		"https://acme.com/a": lock.ErrNotAcquired,
	}}
	r := NewRunner(ext, merger, nil, config.SessionConfig{MaxConcurrentPages: 1}, nil)

	rep, err := r.Run(context.Background(), []model.PageRecord{
		page("https://acme.com/a", "acme"),
		page("https://acme.com/b", "acme"),
		page("https://globex.com/x", "globex"),
	})

	require.NoError(t, err)
	// Second acme page is failed without another merge attempt; globex merges.
	require.Len(t, merger.calls, 2)
	assert.Equal(t, "acme", merger.calls[0].competitor)
	assert.Equal(t, "globex", merger.calls[1].competitor)
	assert.Len(t, rep.PagesFailed, 2)
	require.Len(t, rep.Errs, 1)
	assert.True(t, errors.Is(rep.Errs[0], lock.ErrNotAcquired))
}

func TestRunner_MergesGroupedByCompetitorInFirstSeenOrder(t *testing.T) {
	ext := newFakeExtractor(func(_ model.PageRecord, _ int) extract.Result {
		return successResult(0.8)
	})
	merger := &fakeMerger{}
	r := NewRunner(ext, merger, nil, config.SessionConfig{MaxConcurrentPages: 1}, nil)

	_, err := r.Run(context.Background(), []model.PageRecord{
		page("https://acme.com/a", "acme"),
		page("https://globex.com/x", "globex"),
		page("https://acme.com/b", "acme"),
	})

	require.NoError(t, err)
	require.Len(t, merger.calls, 3)
	competitors := []string{merger.calls[0].competitor, merger.calls[1].competitor, merger.calls[2].competitor}
	assert.Equal(t, []string{"acme", "acme", "globex"}, competitors)
}

func TestRunner_CancellationMarksPartial(t *testing.T) {
	ext := newFakeExtractor(func(_ model.PageRecord, _ int) extract.Result {
		return successResult(0.8)
	})
	merger := &fakeMerger{}
	r := NewRunner(ext, merger, nil, config.SessionConfig{MaxConcurrentPages: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := r.Run(ctx, []model.PageRecord{page("https://acme.com/a", "acme")})

	require.NoError(t, err, "cancellation ends the session, it does not fail it")
	assert.True(t, rep.Partial)
	assert.Empty(t, merger.calls)
	assert.Zero(t, rep.PagesProcessed)
}

func TestRunner_SourceMetaCarriesProvenance(t *testing.T) {
	ext := newFakeExtractor(func(_ model.PageRecord, _ int) extract.Result {
		res := successResult(0.8)
		res.Method = model.MethodAI
		res.InputTokens = 120
		res.OutputTokens = 40
		return res
	})
	merger := &fakeMerger{}
	r := NewRunner(ext, merger, nil, config.SessionConfig{MaxConcurrentPages: 1}, nil)

	_, err := r.Run(context.Background(), []model.PageRecord{page("https://acme.com/a", "acme")})

	require.NoError(t, err)
	require.Len(t, merger.calls, 1)
	meta := merger.calls[0].meta
	assert.Equal(t, "https://acme.com/a", meta.URL)
	assert.Equal(t, model.PageProduct, meta.PageType)
	assert.Equal(t, "hash-https://acme.com/a", meta.ContentHash)
	assert.Equal(t, model.MethodAI, meta.Method)
	assert.Equal(t, 120, meta.InputTokens)
	assert.Equal(t, 40, meta.OutputTokens)
	assert.GreaterOrEqual(t, meta.DurationMS, int64(0))
}
