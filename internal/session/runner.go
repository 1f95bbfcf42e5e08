// Package session runs extraction sessions: bounded-concurrency extraction
// over a batch of page records, grouped merges per competitor, and typed
// progress events for subscribers.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/compintel/internal/config"
	"github.com/sells-group/compintel/internal/extract"
	"github.com/sells-group/compintel/internal/lock"
	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/modelclient"
	"github.com/sells-group/compintel/internal/normalize"
)

// Extractor is the page-level extraction entry point. Satisfied by
// *extract.Service.
type Extractor interface {
	Extract(ctx context.Context, page model.PageRecord, sessionID string) extract.Result
}

// Merger merges one page's entities into the canonical store. Satisfied by
// *normalize.Orchestrator.
type Merger interface {
	NormalizeAndUpsert(ctx context.Context, competitor, sessionID string, set model.EntitySet, meta model.SourceMeta) (*normalize.Result, error)
}

// Releaser drops per-session model-client state once a session ends.
// Satisfied by *modelclient.Client.
type Releaser interface {
	ReleaseSession(sessionID string)
}

// In-session retries for rate-limited pages. Further retries belong to a
// later session; the page stays in the failed list as transient.
const rateLimitRetries = 2

// Runner drives one extraction session at a time: extract concurrently,
// merge per competitor, report what happened.
type Runner struct {
	extractor Extractor
	merger    Merger
	releaser  Releaser
	cfg       config.SessionConfig
	events    chan<- Event

	rateLimitBackoff time.Duration
}

// NewRunner wires a session runner. releaser and events may be nil.
func NewRunner(extractor Extractor, merger Merger, releaser Releaser, cfg config.SessionConfig, events chan<- Event) *Runner {
	return &Runner{
		extractor:        extractor,
		merger:           merger,
		releaser:         releaser,
		cfg:              cfg,
		events:           events,
		rateLimitBackoff: 5 * time.Second,
	}
}

// Report summarizes one session. Created/Updated/Skipped count entities, not
// pages. Partial means the session was cancelled; committed merges stand.
type Report struct {
	SessionID      string
	PagesProcessed int
	PagesExtracted int
	PagesFailed    []FailedPage
	Created        int
	Updated        int
	Skipped        int
	Changes        []model.EntityChange
	Errs           []error
	Partial        bool
}

type pageOutcome struct {
	page model.PageRecord
	res  extract.Result
	dur  time.Duration
	done bool
}

// Run processes a batch of page records as one session. Page failures never
// abort the run; cancellation stops work between pages and marks the report
// partial. The error return is reserved for setup failures.
func (r *Runner) Run(ctx context.Context, pages []model.PageRecord) (*Report, error) {
	sessionID := uuid.NewString()
	report := &Report{SessionID: sessionID}
	if len(pages) == 0 {
		return report, nil
	}
	if r.releaser != nil {
		defer r.releaser.ReleaseSession(sessionID)
	}

	limit := r.cfg.MaxConcurrentPages
	if limit <= 0 {
		limit = 1
	}
	log := zap.L().With(zap.String("session_id", sessionID))
	log.Info("session: starting",
		zap.Int("pages", len(pages)),
		zap.Int("concurrency", limit))

	outcomes := make([]pageOutcome, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, page := range pages {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, dur := r.extractPage(gctx, page, sessionID)
			outcomes[i] = pageOutcome{page: page, res: res, dur: dur, done: true}
			return nil
		})
	}
	_ = g.Wait()

	r.collectExtraction(report, outcomes)
	r.mergeOutcomes(ctx, report, sessionID, outcomes)

	if ctx.Err() != nil {
		report.Partial = true
	}
	r.publish(Event{Kind: EventSessionDone, SessionID: sessionID,
		Created: report.Created, Updated: report.Updated, Skipped: report.Skipped})
	log.Info("session: complete",
		zap.Int("pages_processed", report.PagesProcessed),
		zap.Int("pages_extracted", report.PagesExtracted),
		zap.Int("pages_failed", len(report.PagesFailed)),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Bool("partial", report.Partial))
	return report, nil
}

// extractPage runs extraction with in-session backoff for rate-limited
// calls. Other failures surface immediately; the retry policy for those
// lives inside the model client.
func (r *Runner) extractPage(ctx context.Context, page model.PageRecord, sessionID string) (extract.Result, time.Duration) {
	start := time.Now()
	res := r.extractor.Extract(ctx, page, sessionID)
	for attempt := 0; attempt < rateLimitRetries && modelclient.IsKind(res.Err, modelclient.KindRateLimited); attempt++ {
		zap.L().Warn("session: rate limited, backing off",
			zap.String("url", page.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", r.rateLimitBackoff))

		timer := time.NewTimer(r.rateLimitBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, time.Since(start)
		case <-timer.C:
		}
		res = r.extractor.Extract(ctx, page, sessionID)
	}
	return res, time.Since(start)
}

func (r *Runner) collectExtraction(report *Report, outcomes []pageOutcome) {
	for _, out := range outcomes {
		if !out.done {
			report.Partial = true
			continue
		}
		report.PagesProcessed++
		switch {
		case out.res.Err != nil:
			r.recordFailure(report, out.page, out.res.Err)
		case !out.res.Success:
			r.recordFailure(report, out.page,
				eris.Errorf("session: extraction below confidence threshold (%.2f)", out.res.Confidence))
		default:
			report.PagesExtracted++
			r.publish(Event{Kind: EventPageExtracted, SessionID: report.SessionID,
				Competitor: out.page.Competitor, URL: out.page.URL})
		}
	}
}

// mergeOutcomes merges successful pages grouped per competitor, in first-seen
// order. A lock timeout fails the rest of that competitor's batch; other
// merge errors fail only their page.
func (r *Runner) mergeOutcomes(ctx context.Context, report *Report, sessionID string, outcomes []pageOutcome) {
	order := make([]string, 0, 4)
	grouped := make(map[string][]pageOutcome)
	for _, out := range outcomes {
		if !out.done || !out.res.Success {
			continue
		}
		if _, seen := grouped[out.page.Competitor]; !seen {
			order = append(order, out.page.Competitor)
		}
		grouped[out.page.Competitor] = append(grouped[out.page.Competitor], out)
	}

	for _, competitor := range order {
		var lockErr error
		for _, out := range grouped[competitor] {
			if ctx.Err() != nil {
				report.Partial = true
				return
			}
			if lockErr != nil {
				r.recordFailure(report, out.page, lockErr)
				continue
			}

			mres, err := r.merger.NormalizeAndUpsert(ctx, competitor, sessionID, out.res.Entities, sourceMeta(out))
			if err != nil {
				report.Errs = append(report.Errs, eris.Wrapf(err, "session: merge %s", out.page.URL))
				r.recordFailure(report, out.page, err)
				if errors.Is(err, lock.ErrNotAcquired) {
					lockErr = err
				}
				continue
			}

			report.Created += mres.Created
			report.Updated += mres.Updated
			report.Skipped += mres.Skipped
			report.Changes = append(report.Changes, mres.Changes...)
			report.Errs = append(report.Errs, mres.Errs...)
			r.publish(Event{Kind: EventPageMerged, SessionID: sessionID,
				Competitor: competitor, URL: out.page.URL,
				Created: mres.Created, Updated: mres.Updated, Skipped: mres.Skipped})
		}
	}
}

func (r *Runner) recordFailure(report *Report, page model.PageRecord, err error) {
	fp := newFailedPage(page, err)
	report.PagesFailed = append(report.PagesFailed, fp)
	r.publish(Event{Kind: EventPageFailed, SessionID: report.SessionID,
		Competitor: page.Competitor, URL: page.URL, Err: fp.Error})
	zap.L().Warn("session: page failed",
		zap.String("url", page.URL),
		zap.String("competitor", page.Competitor),
		zap.String("error_type", fp.ErrorType),
		zap.Error(err))
}

// publish never blocks: a nil channel or full buffer drops the event.
func (r *Runner) publish(ev Event) {
	if r.events == nil {
		return
	}
	select {
	case r.events <- ev:
	default:
	}
}

func sourceMeta(out pageOutcome) model.SourceMeta {
	return model.SourceMeta{
		URL:          out.page.URL,
		PageType:     out.page.PageType,
		ContentHash:  out.page.ContentHash,
		Method:       out.res.Method,
		Confidence:   out.res.Confidence,
		InputTokens:  out.res.InputTokens,
		OutputTokens: out.res.OutputTokens,
		DurationMS:   out.dur.Milliseconds(),
	}
}
