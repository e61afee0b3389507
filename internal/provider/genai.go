package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"google.golang.org/genai"
)

// GenAIOptions configures the Gemini-family cloud provider variant.
type GenAIOptions struct {
	Model          string `json:"model"`
	APIKeyEnv      string `json:"api_key_env"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	RPM            int    `json:"rpm"`
	TPM            int    `json:"tpm"`
	MaxConcurrency int    `json:"max_concurrency"`
	SchemaVer      string `json:"schema_version"`
}

func (o *GenAIOptions) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.0-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GEMINI_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.SchemaVer == "" {
		o.SchemaVer = "v1"
	}
}

// GenAIProvider wraps google.golang.org/genai behind the Provider surface.
type GenAIProvider struct {
	client *genai.Client
	model  string
	hint   RateHint
	schema string
	sv     *SchemaValidator
}

// NewGenAI constructs a Gemini-family provider from raw JSON options.
func NewGenAI(raw json.RawMessage) (Provider, error) {
	var opts GenAIOptions
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("genai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, errors.New("genai: missing api key")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.TimeoutSeconds)*time.Second)
	defer cancel()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}
	return &GenAIProvider{
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

func (p *GenAIProvider) Name() string            { return "gemini" }
func (p *GenAIProvider) Model() string           { return p.model }
func (p *GenAIProvider) SchemaVersion() string   { return p.schema }
func (p *GenAIProvider) RateLimitHint() RateHint { return p.hint }

func (p *GenAIProvider) CompleteStructured(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	payload, err := json.Marshal(req.UserPayload)
	if err != nil {
		return Response{}, newError(CodeInvalidOutput, err, 0, "")
	}

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxOutputTok > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTok)
	}
	if len(req.Schema) > 0 {
		cfg.ResponseMIMEType = "application/json"
		var schema genai.Schema
		if err := json.Unmarshal(req.Schema, &schema); err == nil {
			cfg.ResponseSchema = &schema
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		genai.Text(string(payload)), cfg)
	if err != nil {
		return Response{}, classifyGenAIError(ctx, err)
	}
	raw := resp.Text()
	parsed, err := ExtractJSON(raw)
	if err != nil {
		return Response{}, newError(CodeInvalidOutput, err, 0, raw)
	}
	if err := p.sv.Validate(req.SchemaName, req.Schema, parsed); err != nil {
		return Response{}, newError(CodeInvalidOutput, err, 0, raw)
	}
	promptTok, completionTok := 0, 0
	if resp.UsageMetadata != nil {
		promptTok = int(resp.UsageMetadata.PromptTokenCount)
		completionTok = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return Response{
		Parsed:        parsed,
		PromptTokens:  promptTok,
		CompletionTok: completionTok,
		WallTime:      time.Since(start),
	}, nil
}

func classifyGenAIError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return newError(CodeCancelled, err, 0, "")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeTimeout, err, 0, "")
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			return newError(CodeRateLimited, err, time.Second, "")
		case 401, 403:
			return newError(CodeAuthFailed, err, 0, "")
		default:
			if apiErr.Code/100 == 5 {
				return newError(CodeTransient, err, 0, "")
			}
		}
	}
	return newError(CodeTransient, err, 0, "")
}
