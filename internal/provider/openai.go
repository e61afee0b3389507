package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIOptions configures the OpenAI-compatible provider variant. It also
// serves any self-hosted server that speaks the OpenAI chat-completions
// wire format (Options.BaseURL overridden).
type OpenAIOptions struct {
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	APIKeyEnv      string  `json:"api_key_env"`
	APIKey         string  `json:"api_key"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	RPM            int     `json:"rpm"`
	TPM            int     `json:"tpm"`
	MaxConcurrency int     `json:"max_concurrency"`
	SchemaVer      string  `json:"schema_version"`
}

func (o *OpenAIOptions) defaults() {
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.SchemaVer == "" {
		o.SchemaVer = "v1"
	}
}

// OpenAIProvider wraps the real OpenAI SDK client behind the Provider
// capability surface.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	hint    RateHint
	schema  string
	sv      *SchemaValidator
}

// NewOpenAI constructs an OpenAI-compatible provider from raw JSON options.
func NewOpenAI(raw json.RawMessage) (Provider, error) {
	var opts OpenAIOptions
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, errors.New("openai: missing api key")
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(&http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &OpenAIProvider{
		client: client,
		model:  opts.Model,
		schema: opts.SchemaVer,
		hint: RateHint{
			RequestsPerSecond: float64(opts.RPM) / 60.0,
			TokensPerMinute:   opts.TPM,
			MaxConcurrency:    opts.MaxConcurrency,
		},
		sv: NewSchemaValidator(),
	}, nil
}

func (p *OpenAIProvider) Name() string          { return "openai" }
func (p *OpenAIProvider) Model() string         { return p.model }
func (p *OpenAIProvider) SchemaVersion() string { return p.schema }
func (p *OpenAIProvider) RateLimitHint() RateHint { return p.hint }

func (p *OpenAIProvider) CompleteStructured(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	payload, err := json.Marshal(req.UserPayload)
	if err != nil {
		return Response{}, newError(CodeInvalidOutput, err, 0, "")
	}

	params := openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(string(payload)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTok > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTok))
	}
	if len(req.Schema) > 0 {
		var schemaDoc any
		_ = json.Unmarshal(req.Schema, &schemaDoc)
		name := req.SchemaName
		if name == "" {
			name = "structured_response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schemaDoc,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, classifyOpenAIError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, newError(CodeInvalidOutput, errors.New("empty choices"), 0, "")
	}
	raw := completion.Choices[0].Message.Content
	parsed, err := ExtractJSON(raw)
	if err != nil {
		return Response{}, newError(CodeInvalidOutput, err, 0, raw)
	}
	if err := p.sv.Validate(req.SchemaName, req.Schema, parsed); err != nil {
		return Response{}, newError(CodeInvalidOutput, err, 0, raw)
	}
	return Response{
		Parsed:        parsed,
		PromptTokens:  int(completion.Usage.PromptTokens),
		CompletionTok: int(completion.Usage.CompletionTokens),
		WallTime:      time.Since(start),
	}, nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return newError(CodeCancelled, err, 0, "")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeTimeout, err, 0, "")
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return newError(CodeRateLimited, err, time.Second, "")
		case http.StatusUnauthorized, http.StatusForbidden:
			return newError(CodeAuthFailed, err, 0, "")
		case http.StatusRequestTimeout:
			return newError(CodeTimeout, err, 0, "")
		default:
			if apiErr.StatusCode/100 == 5 {
				return newError(CodeTransient, err, 0, "")
			}
		}
	}
	return newError(CodeTransient, err, 0, "")
}
