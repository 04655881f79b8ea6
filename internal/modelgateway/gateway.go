// Package modelgateway is the Model Gateway, component D: the sole path to
// the embedding, rerank, and generation backends, enforcing bounded
// concurrency, token-bucket rate limiting, and a uniform retry policy so
// callers never talk to those backends directly.
package modelgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kbragio/kbrag/internal/conf"
)

// ErrorClass classifies a Model Gateway failure so callers know whether to
// retry, fail the whole pipeline stage, or split the offending input.
type ErrorClass int

const (
	// ClassTransient covers timeouts, 5xx, and connection errors: retry
	// with backoff.
	ClassTransient ErrorClass = iota
	// ClassPermanent covers 4xx other than overlong-input: do not retry.
	ClassPermanent
	// ClassOverlongInput covers payloads the backend rejected as too long:
	// callers should split the input rather than retry verbatim.
	ClassOverlongInput
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassOverlongInput:
		return "overlong_input"
	default:
		return "unknown"
	}
}

// Error wraps a Model Gateway failure with its classification.
type Error struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("modelgateway: %s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Gateway is the single entry point for embed/rerank/generate calls.
type Gateway struct {
	cfg    *conf.ModelConfig
	client *http.Client

	limiter *rate.Limiter
	tokens  *rate.Limiter
	sem     *semaphore.Weighted
}

func New(cfg *conf.ModelConfig, concurrency int64) *Gateway {
	return &Gateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.QPS), int(cfg.QPS)+1),
		tokens:  rate.NewLimiter(rate.Limit(cfg.TokensPerMin/60), int(cfg.TokensPerMin)),
		sem:     semaphore.NewWeighted(concurrency),
	}
}

// EmbedRequest/EmbedResponse mirror a TEI/OpenAI-style embedding sidecar.
type EmbedRequest struct {
	Texts []string `json:"texts"`
}

type EmbedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Embed vectorizes a batch of texts, failing the whole batch with
// ClassOverlongInput if any text exceeds cfg.MaxInputChars (spec §4.4's
// "caller must split the input and resubmit" contract).
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if len(t) > g.cfg.MaxInputChars {
			return nil, &Error{Class: ClassOverlongInput, Op: "embed", Err: fmt.Errorf("input of %d chars exceeds limit %d", len(t), g.cfg.MaxInputChars)}
		}
	}

	var resp EmbedResponse
	if err := g.doJSON(ctx, "embed", g.cfg.EmbedURL, EmbedRequest{Texts: texts}, &resp, estimateTokens(texts)); err != nil {
		return nil, err
	}
	return resp.Vectors, nil
}

// RerankRequest/RerankResponse mirror a cross-encoder rerank sidecar.
type RerankRequest struct {
	Query     string   `json:"query"`
	Passages  []string `json:"passages"`
}

type RerankResponse struct {
	Scores []float32 `json:"scores"`
}

// Rerank scores each passage against query, returning scores in the same
// order as passages.
func (g *Gateway) Rerank(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(query) > g.cfg.MaxInputChars {
		return nil, &Error{Class: ClassOverlongInput, Op: "rerank", Err: fmt.Errorf("query of %d chars exceeds limit %d", len(query), g.cfg.MaxInputChars)}
	}

	var resp RerankResponse
	if err := g.doJSON(ctx, "rerank", g.cfg.RerankURL, RerankRequest{Query: query, Passages: passages}, &resp, estimateTokens(append([]string{query}, passages...))); err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

// GenerateRequest/GenerateResponse mirror an OpenAI-chat-compatible backend.
type GenerateRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	Messages     []GenerateMessage `json:"messages"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
}

type GenerateMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateResponse struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Generate produces an answer from a system prompt and a message history.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	total := len(req.SystemPrompt)
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	if total > g.cfg.MaxInputChars {
		return nil, &Error{Class: ClassOverlongInput, Op: "generate", Err: fmt.Errorf("prompt of %d chars exceeds limit %d", total, g.cfg.MaxInputChars)}
	}

	var resp GenerateResponse
	if err := g.doJSON(ctx, "generate", g.cfg.GenerateURL, req, &resp, total/4); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doJSON applies bounded concurrency, QPS + token-bucket rate limiting, and
// exponential-backoff-with-jitter retry around one HTTP round trip.
func (g *Gateway) doJSON(ctx context.Context, op, url string, body, out any, estTokens int) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return &Error{Class: ClassTransient, Op: op, Err: err}
	}
	defer g.sem.Release(1)

	if err := g.limiter.Wait(ctx); err != nil {
		return &Error{Class: ClassTransient, Op: op, Err: err}
	}
	if err := g.tokens.WaitN(ctx, max(estTokens, 1)); err != nil {
		return &Error{Class: ClassTransient, Op: op, Err: err}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Class: ClassPermanent, Op: op, Err: err}
	}

	var lastErr error
	delay := g.cfg.RetryBaseDelay
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			jittered := delay/2 + time.Duration(rand.Int63n(int64(delay/2+1)))
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return &Error{Class: ClassTransient, Op: op, Err: ctx.Err()}
			}
			delay *= 2
			if delay > g.cfg.RetryMaxDelay {
				delay = g.cfg.RetryMaxDelay
			}
		}

		err := g.roundTrip(ctx, url, payload, out)
		if err == nil {
			return nil
		}
		var gwErr *Error
		if asError(err, &gwErr) && gwErr.Class != ClassTransient {
			return gwErr
		}
		lastErr = err
	}
	return lastErr
}

func (g *Gateway) roundTrip(ctx context.Context, url string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &Error{Class: ClassPermanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &Error{Class: ClassTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Class: ClassTransient, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge || resp.StatusCode == http.StatusUnprocessableEntity:
		return &Error{Class: ClassOverlongInput, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &Error{Class: ClassTransient, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	case resp.StatusCode >= 400:
		return &Error{Class: ClassPermanent, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &Error{Class: ClassPermanent, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func asError(err error, target **Error) bool {
	gwErr, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = gwErr
	return true
}

// estimateTokens gives the token-bucket limiter a rough character/4 budget
// without pulling in a tokenizer, matching the teacher's own char-based
// truncation approach elsewhere in the pipeline.
func estimateTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		total += len(t) / 4
	}
	return total
}
