package modelclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/compintel/internal/cache"
	"github.com/sells-group/compintel/internal/config"
	"github.com/sells-group/compintel/internal/resilience"
	"github.com/sells-group/compintel/pkg/anthropic"
)

// Request is one extraction call to the model.
type Request struct {
	SessionID  string
	Competitor string
	PageType   string
	System     string
	Prompt     string
	// SchemaVersion participates in the cache key: schema changes invalidate
	// cached responses.
	SchemaVersion string
}

// Response is the repaired model output plus bookkeeping for provenance.
type Response struct {
	JSON         json.RawMessage
	Model        string
	InputTokens  int64
	OutputTokens int64
	Duration     time.Duration
	FromCache    bool
}

// Client is the resilient model client: cache in front, then global and
// per-session rate limits, circuit breaker, retry, and a JSON repair ladder
// with one corrective round trip.
type Client struct {
	api     anthropic.Client
	cache   cache.Store
	breaker *resilience.Breaker
	cfg     config.AnthropicConfig
	retry   resilience.RetryConfig

	global *rate.Limiter

	mu      sync.Mutex
	session map[string]*rate.Limiter
}

// New builds a Client from config. The breaker only trips on transport-level
// failures; validation and rate-limit errors say nothing about service health.
func New(api anthropic.Client, cacheStore cache.Store, cfg config.AnthropicConfig) *Client {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.RecoveryTimeoutSecs) * time.Second,
		ShouldTrip: func(err error) bool {
			// 429 and other 4xx responses say nothing about service health.
			status := anthropic.StatusCode(err)
			return status == 0 || resilience.IsTransientHTTPStatus(status)
		},
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("model circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")

	return &Client{
		api:     api,
		cache:   cacheStore,
		breaker: breaker,
		cfg:     cfg,
		retry:   retry,
		global:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		session: make(map[string]*rate.Limiter),
	}
}

// Extract sends the prompt and returns repaired JSON. Cache hits skip the
// limiters and the breaker entirely.
func (c *Client) Extract(ctx context.Context, req Request) (*Response, error) {
	key := cache.Key(cache.KeyInput{
		Model:         c.cfg.Model,
		PromptVersion: c.cfg.PromptVersion,
		SchemaVersion: req.SchemaVersion,
		PageType:      req.PageType,
		Competitor:    req.Competitor,
		Prompt:        req.Prompt,
	})

	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		if err != nil {
			zap.L().Warn("cache lookup failed", zap.Error(err))
		} else if entry != nil {
			if err := c.cache.Touch(ctx, key); err != nil {
				zap.L().Warn("cache touch failed", zap.Error(err))
			}
			return &Response{
				JSON:         json.RawMessage(entry.Response),
				Model:        entry.Model,
				InputTokens:  entry.InputTokens,
				OutputTokens: entry.OutputTokens,
				FromCache:    true,
			}, nil
		}
	}

	resp, err := c.callWithRepair(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, cache.Entry{
			Key:          key,
			Model:        resp.Model,
			Competitor:   req.Competitor,
			PageType:     req.PageType,
			Response:     string(resp.JSON),
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		}); err != nil {
			zap.L().Warn("cache store failed", zap.Error(err))
		}
	}
	return resp, nil
}

// callWithRepair runs the model call and the repair ladder. If the response
// cannot be repaired, one corrective round trip asks the model to re-emit
// valid JSON; a second failure is a validation error.
func (c *Client) callWithRepair(ctx context.Context, req Request) (*Response, error) {
	raw, resp, err := c.call(ctx, req.SessionID, req.System, req.Prompt)
	if err != nil {
		return nil, err
	}

	repaired, repairErr := RepairJSON(raw)
	if repairErr != nil {
		zap.L().Info("response not parseable, sending corrective retry",
			zap.String("competitor", req.Competitor),
			zap.String("page_type", req.PageType))

		corrective := req.Prompt +
			"\n\nYour previous response was not valid JSON. Respond again with ONLY the JSON object, no prose, no markdown fences.\n\nPrevious response:\n" + raw
		raw2, resp2, err := c.call(ctx, req.SessionID, req.System, corrective)
		if err != nil {
			return nil, err
		}
		repaired, repairErr = RepairJSON(raw2)
		if repairErr != nil {
			return nil, &ModelError{Kind: KindValidation, Err: repairErr}
		}
		resp2.InputTokens += resp.InputTokens
		resp2.OutputTokens += resp.OutputTokens
		resp = resp2
	}

	resp.JSON = repaired
	return resp, nil
}

func (c *Client) call(ctx context.Context, sessionID, system, prompt string) (string, *Response, error) {
	if err := c.global.Wait(ctx); err != nil {
		return "", nil, eris.Wrap(err, "modelclient: global rate wait")
	}
	if sessionID != "" {
		if err := c.sessionLimiter(sessionID).Wait(ctx); err != nil {
			return "", nil, eris.Wrap(err, "modelclient: session rate wait")
		}
	}

	start := time.Now()
	msg, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			m, callErr := c.api.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     c.cfg.Model,
				MaxTokens: c.cfg.MaxTokens,
				System:    system,
				Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
			})
			if callErr != nil {
				return nil, classifyForRetry(callErr)
			}
			return m, nil
		})
	})
	if err != nil {
		return "", nil, Classify(err)
	}

	return msg.Text, &Response{
		Model:        msg.Model,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		Duration:     time.Since(start),
	}, nil
}

// classifyForRetry marks timeouts and 5xx as transient so DoVal retries
// them. 429 stays non-transient: the caller requeues the page after backoff
// instead of hammering a limited endpoint.
func classifyForRetry(err error) error {
	status := anthropic.StatusCode(err)
	if resilience.IsTransientHTTPStatus(status) || (status == 0 && resilience.IsTransient(err)) {
		return resilience.NewTransientError(err, status)
	}
	return err
}

func (c *Client) sessionLimiter(sessionID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.session[sessionID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.cfg.SessionRatePerSecond), c.cfg.SessionBurst)
		c.session[sessionID] = lim
	}
	return lim
}

// ReleaseSession drops the per-session limiter once a session finishes.
func (c *Client) ReleaseSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.session, sessionID)
}

// BreakerState exposes the circuit state for status reporting.
func (c *Client) BreakerState() resilience.CircuitState {
	return c.breaker.State()
}
