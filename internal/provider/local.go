package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// LocalOptions configures the deterministic/flaky local test-double
// provider: no network calls, useful for offline runs and tests.
type LocalOptions struct {
	Prefix string `json:"prefix"`
	// Mode: "ok" always succeeds with a placeholder translation; "flaky"
	// fails its first call as rate-limited and its second as invalid-output,
	// then succeeds on every later call, matching the teacher's
	// mock/flaky test doubles combined into one configurable variant.
	Mode          string `json:"mode"`
	RPM           int    `json:"rpm"`
	SchemaVersion string `json:"schema_version"`
}

// LocalProvider is the local/offline provider variant.
type LocalProvider struct {
	prefix string
	mode   string
	hint   RateHint
	schema string
	count  atomic.Int32
}

// NewLocal constructs the local test-double provider from raw JSON options.
func NewLocal(raw json.RawMessage) (Provider, error) {
	var o LocalOptions
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("local options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	if o.Mode == "" {
		o.Mode = "ok"
	}
	if o.SchemaVersion == "" {
		o.SchemaVersion = "v1"
	}
	rpm := o.RPM
	if rpm <= 0 {
		rpm = 6000
	}
	return &LocalProvider{prefix: o.Prefix, mode: o.Mode, schema: o.SchemaVersion,
		hint: RateHint{RequestsPerSecond: float64(rpm) / 60.0, TokensPerMinute: 1 << 30, MaxConcurrency: 64}}, nil
}

func (p *LocalProvider) Name() string            { return "local" }
func (p *LocalProvider) Model() string            { return p.mode }
func (p *LocalProvider) SchemaVersion() string   { return p.schema }
func (p *LocalProvider) RateLimitHint() RateHint { return p.hint }

type windowLike struct {
	TargetIDs []int64 `json:"target_ids"`
	Current   []struct {
		ID       int64  `json:"id"`
		Original string `json:"original"`
	} `json:"current"`
}

type translatedItem struct {
	ID         int64  `json:"id"`
	Translated string `json:"translated"`
}

func (p *LocalProvider) CompleteStructured(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, newError(CodeCancelled, ctx.Err(), 0, "")
	default:
	}

	if p.mode == "flaky" {
		switch p.count.Add(1) {
		case 1:
			return Response{}, newError(CodeRateLimited, nil, 200*time.Millisecond, "")
		case 2:
			return Response{}, newError(CodeInvalidOutput, nil, 0, "not json")
		}
	}

	payload, err := json.Marshal(req.UserPayload)
	if err != nil {
		return Response{}, newError(CodeInvalidOutput, err, 0, "")
	}
	var w windowLike
	if err := json.Unmarshal(payload, &w); err != nil {
		return Response{}, newError(CodeInvalidOutput, err, 0, string(payload))
	}
	items := make([]translatedItem, 0, len(w.Current))
	for _, c := range w.Current {
		items = append(items, translatedItem{ID: c.ID, Translated: p.prefix + ": " + c.Original})
	}
	out, err := json.Marshal(map[string][]translatedItem{"translations": items})
	if err != nil {
		return Response{}, newError(CodeInvalidOutput, err, 0, "")
	}
	return Response{Parsed: out, PromptTokens: len(payload) / 4, CompletionTok: len(out) / 4}, nil
}
