package annotation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// FinishReason mirrors the model API's numeric stop classification.
type FinishReason int32

const (
	FinishUnspecified FinishReason = 0
	FinishStop        FinishReason = 1
	FinishMaxTokens   FinishReason = 2
	FinishSafety      FinishReason = 3
	FinishRecitation  FinishReason = 4
	FinishOther       FinishReason = 5
	FinishBlocklist   FinishReason = 8
)

var finishReasonNames = map[FinishReason]string{
	FinishUnspecified: "UNSPECIFIED",
	FinishStop:        "STOP",
	FinishMaxTokens:   "MAX_TOKENS",
	FinishSafety:      "SAFETY",
	FinishRecitation:  "RECITATION",
	FinishOther:       "OTHER",
	FinishBlocklist:   "BLOCKLIST",
}

func (f FinishReason) String() string {
	if name, ok := finishReasonNames[f]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(f))
}

type Candidate struct {
	FinishReason FinishReason
	Text         string
}

// ModelResponse is the vendor-neutral shape of one generation call.
type ModelResponse struct {
	Candidates    []Candidate
	BlockReason   string
	SafetyRatings []string
}

// Generator performs one model call. Failures should be *ModelError so the
// client can tell transient from terminal errors; anything else is terminal.
type Generator interface {
	Generate(ctx context.Context, image []byte, mimeType string, prompt string) (*ModelResponse, error)
}

// ImageRequest is everything Analyze needs for one image.
type ImageRequest struct {
	Data           []byte
	MIMEType       string
	Metadata       *ImageMetadata
	PromptTemplate string
}

type ClientOptions struct {
	MaxAttempts       int
	Timeout           time.Duration
	RetryDelay        time.Duration
	RequestsPerMinute int
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		MaxAttempts: 3,
		Timeout:     120 * time.Second,
		RetryDelay:  5 * time.Second,
	}
}

// Client runs the model call with a per-attempt timeout and bounded retries.
type Client struct {
	generator Generator
	opts      ClientOptions
	limiter   *rate.Limiter
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewClient(generator Generator, opts ClientOptions) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	c := &Client{
		generator: generator,
		opts:      opts,
		sleep:     sleepContext,
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Analyze builds the prompt, calls the model and returns a validated result.
// All failures are *AnalysisError.
func (c *Client) Analyze(ctx context.Context, req *ImageRequest) (*Result, error) {
	template := req.PromptTemplate
	if template == "" {
		template = DefaultPromptTemplate()
	}
	prompt := BuildPrompt(template, req.Metadata)

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("gemini: attempt %d/%d after %v: %v", attempt, c.opts.MaxAttempts, c.opts.RetryDelay, lastErr)
			if err := c.sleep(ctx, c.opts.RetryDelay); err != nil {
				return nil, &AnalysisError{Reason: ReasonRequest, Attempts: attempt - 1, Err: err}
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &AnalysisError{Reason: ReasonRequest, Attempts: attempt - 1, Err: err}
			}
		}

		text, err := c.attempt(ctx, req, prompt)
		if err == nil {
			result, err := ParseResponse(text)
			if err != nil {
				return nil, &AnalysisError{Reason: ReasonOf(err), Attempts: attempt, Err: err}
			}
			result.ApplyMetadata(req.Metadata)
			return result, nil
		}

		reason := ReasonOf(err)
		if reason == "" {
			reason = ReasonRequest
		}
		if !reason.Retryable() || ctx.Err() != nil {
			return nil, &AnalysisError{Reason: reason, Attempts: attempt, Err: err}
		}
		lastErr = err
	}
	return nil, &AnalysisError{Reason: ReasonOf(lastErr), Attempts: c.opts.MaxAttempts, Err: lastErr}
}

// attempt makes one call and returns the text of a normally finished candidate.
func (c *Client) attempt(ctx context.Context, req *ImageRequest, prompt string) (string, error) {
	attemptCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	resp, err := c.generator.Generate(attemptCtx, req.Data, req.MIMEType, prompt)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", &ModelError{Reason: ReasonTimeout, Err: fmt.Errorf("no response within %v", c.opts.Timeout)}
		}
		return "", err
	}

	if len(resp.Candidates) == 0 {
		msg := "model returned no candidates"
		if resp.BlockReason != "" {
			msg += ", block reason: " + resp.BlockReason
		}
		if len(resp.SafetyRatings) > 0 {
			msg += ", safety ratings: " + strings.Join(resp.SafetyRatings, "; ")
		}
		return "", &ModelError{Reason: ReasonBlocked, Err: errors.New(msg)}
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason != FinishStop {
		return "", &ModelError{
			Reason: ReasonFinish,
			Err:    fmt.Errorf("generation stopped abnormally: finish reason %s (%d)", candidate.FinishReason, int32(candidate.FinishReason)),
		}
	}
	return candidate.Text, nil
}
