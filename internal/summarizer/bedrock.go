package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/preprocess"
)

// ErrRateLimited signals a Bedrock throttling response — the caller
// (Worker.callLLM) retries on this per the fixed 10s/30s/60s ladder
// (spec.md §4.4 step 5); every other error ends the call without an
// in-call retry and is classified PARSE_FAILED (errParseFailed) or
// MISTRAL_FAILED.
var ErrRateLimited = errors.New("summarizer: llm call rate limited")

// errParseFailed wraps a response that didn't parse as the expected
// structured summary — classified PARSE_FAILED (retryable: the next
// attempt may land on a well-formed response) rather than MISTRAL_FAILED
// (spec.md §4.4 error classification table).
var errParseFailed = errors.New("summarizer: llm response unparseable")

// LLMInput is the preprocessed content handed to the model.
type LLMInput struct {
	Subject string
	Body    string
}

// LLM is the narrow contract Worker depends on, so tests substitute a
// fake instead of a live Bedrock client.
type LLM interface {
	Summarize(ctx context.Context, in LLMInput) (domain.SummaryStruct, error)
}

// BedrockClient implements LLM against AWS Bedrock's InvokeModel API for
// an Anthropic Claude model. Grounded on the teacher's
// internal/agent/bedrock_agent.go request/response shape (Converse-style
// Anthropic payload via InvokeModel), generalized from a free-form chat
// completion to a structured-JSON extraction call with a closed output
// schema.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockClient builds a BedrockClient for modelID (a Bedrock model
// ARN or ID) using the process's default AWS credential chain and the
// given region, as the teacher's NewBedrockAgent does.
func NewBedrockClient(ctx context.Context, region, modelID string) (*BedrockClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("summarizer: load aws config: %w", err)
	}
	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

const systemPrompt = `You summarize a single email for a busy inbox owner. Reply with ONLY a JSON object of the form {"overview": "...", "action_items": ["...", "..."], "urgency": "low"|"medium"|"high"} and no other text. overview must be a short plain-English summary. action_items lists concrete follow-ups the recipient should take, or an empty array if none. urgency reflects how time-sensitive the email is.`

// Summarize implements LLM.
func (c *BedrockClient) Summarize(ctx context.Context, in LLMInput) (domain.SummaryStruct, error) {
	userContent := fmt.Sprintf("Subject: %s\n\n%s", in.Subject, in.Body)

	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        preprocess.MaxOutputTokens,
		System:           systemPrompt,
		Temperature:      Temperature,
		Messages: []bedrockMessage{
			{Role: "user", Content: []bedrockContentBlock{{Type: "text", Text: userContent}}},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.SummaryStruct{}, fmt.Errorf("summarizer: marshal bedrock request: %w", err)
	}

	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if isThrottling(err) {
			return domain.SummaryStruct{}, fmt.Errorf("summarizer: bedrock invoke: %w", ErrRateLimited)
		}
		return domain.SummaryStruct{}, fmt.Errorf("summarizer: bedrock invoke: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return domain.SummaryStruct{}, fmt.Errorf("summarizer: decode bedrock response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	summary, err := parseSummaryJSON(text.String())
	if err != nil {
		return domain.SummaryStruct{}, fmt.Errorf("summarizer: parse summary: %w: %w", errParseFailed, err)
	}
	return summary, nil
}

// parseSummaryJSON extracts the JSON object the prompt instructs the
// model to return. Models occasionally wrap JSON in prose or a code
// fence despite instruction; this tolerates the common cases rather
// than requiring byte-exact output.
func parseSummaryJSON(text string) (domain.SummaryStruct, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return domain.SummaryStruct{}, fmt.Errorf("no JSON object found in response")
	}
	var s domain.SummaryStruct
	if err := json.Unmarshal([]byte(text[start:end+1]), &s); err != nil {
		return domain.SummaryStruct{}, err
	}
	return s, nil
}

// isThrottling reports whether err is a Bedrock throttling/rate-limit
// response, across the smithy API error shapes Bedrock returns for it.
func isThrottling(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return true
		}
	}
	return false
}
