package annotation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
}

// GeminiGenerator implements Generator over the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

var _ Generator = (*GeminiGenerator)(nil)

// safety filtering is disabled for every harm category.
var blockNone = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
}

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("while creating gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	model.SetTopP(cfg.TopP)
	model.SetTopK(cfg.TopK)
	model.SetMaxOutputTokens(cfg.MaxOutputTokens)
	model.ResponseMIMEType = "application/json"
	model.SafetySettings = blockNone
	return &GeminiGenerator{client: client, model: model, name: cfg.Model}, nil
}

func (g *GeminiGenerator) ModelName() string {
	return g.name
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

func (g *GeminiGenerator) Generate(ctx context.Context, image []byte, mimeType string, prompt string) (*ModelResponse, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: image}, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return blockedResponse(blocked), nil
		}
		return nil, classifyError(err)
	}
	return toModelResponse(resp), nil
}

func toModelResponse(resp *genai.GenerateContentResponse) *ModelResponse {
	out := &ModelResponse{}
	if resp.PromptFeedback != nil {
		if resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			out.BlockReason = resp.PromptFeedback.BlockReason.String()
		}
		out.SafetyRatings = ratings(resp.PromptFeedback.SafetyRatings)
	}
	for _, c := range resp.Candidates {
		out.Candidates = append(out.Candidates, toCandidate(c))
	}
	return out
}

func toCandidate(c *genai.Candidate) Candidate {
	var sb strings.Builder
	if c.Content != nil {
		for _, part := range c.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return Candidate{FinishReason: FinishReason(c.FinishReason), Text: sb.String()}
}

// blockedResponse turns the SDK's blocked error back into a response so the
// client applies the same content-policy rules as for an empty answer.
func blockedResponse(blocked *genai.BlockedError) *ModelResponse {
	out := &ModelResponse{}
	if blocked.PromptFeedback != nil {
		out.BlockReason = blocked.PromptFeedback.BlockReason.String()
		out.SafetyRatings = ratings(blocked.PromptFeedback.SafetyRatings)
	}
	if blocked.Candidate != nil {
		out.Candidates = []Candidate{toCandidate(blocked.Candidate)}
		out.SafetyRatings = append(out.SafetyRatings, ratings(blocked.Candidate.SafetyRatings)...)
	}
	return out
}

func ratings(in []*genai.SafetyRating) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		out = append(out, fmt.Sprintf("%s=%s", r.Category, r.Probability))
	}
	return out
}

// classifyError tags transport errors with a retry decision from their status code.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ModelError{Reason: ReasonTimeout, Err: err}
	}
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPCode() >= 500 {
			return &ModelError{Reason: ReasonServer, Err: err}
		}
		if st := apiErr.GRPCStatus(); st != nil {
			return &ModelError{Reason: reasonForCode(st.Code()), Err: err}
		}
		return &ModelError{Reason: ReasonRequest, Err: err}
	}
	var httpErr *googleapi.Error
	if errors.As(err, &httpErr) {
		if httpErr.Code >= 500 {
			return &ModelError{Reason: ReasonServer, Err: err}
		}
		return &ModelError{Reason: ReasonRequest, Err: err}
	}
	if st, ok := status.FromError(err); ok {
		return &ModelError{Reason: reasonForCode(st.Code()), Err: err}
	}
	return &ModelError{Reason: ReasonRequest, Err: err}
}

func reasonForCode(code codes.Code) Reason {
	switch code {
	case codes.Internal, codes.Unavailable, codes.Unknown, codes.DataLoss:
		return ReasonServer
	case codes.DeadlineExceeded:
		return ReasonTimeout
	}
	return ReasonRequest
}
