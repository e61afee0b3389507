// Package translate implements the Translation Pass (C8): per-batch
// cache lookup, context-window assembly, structured model request, response
// validation, and write-through caching (spec §4.8).
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"subtrans/internal/cache"
	"subtrans/internal/model"
	"subtrans/internal/prompt"
	"subtrans/internal/provider"
	"subtrans/internal/rate"
	"subtrans/internal/scheduler"
	"subtrans/internal/window"
)

var translateSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"translations": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id":         {"type": "integer"},
					"translated": {"type": "string"}
				},
				"required": ["id", "translated"]
			}
		}
	},
	"required": ["translations"]
}`)

type translateResponse struct {
	Translations []struct {
		ID         int64  `json:"id"`
		Translated string `json:"translated"`
	} `json:"translations"`
}

// Translator holds the per-run collaborators C8 needs: the document being
// filled in, the provider to call, the two-tier cache, and the shared
// rate-limit governor.
type Translator struct {
	Doc           *model.Document
	Provider      provider.Provider
	Cache         *cache.Cache // optional; nil disables caching
	Gate          rate.Gate    // optional; nil skips the rate-limit wait
	GateKey       rate.LimitKey
	Sizing        window.Sizing
	PromptVersion string
	BytesPerToken int

	estimator *prompt.Estimator
}

func (t *Translator) tokenEstimator() *prompt.Estimator {
	if t.estimator == nil {
		t.estimator = prompt.NewEstimator(t.BytesPerToken)
	}
	return t.estimator
}

func (t *Translator) cacheKey(e model.Entry) cache.Key {
	fp := cache.Fingerprint(e.Original, t.Doc.Meta.SourceLang, t.Doc.Meta.TargetLang,
		t.Provider.Name(), t.Provider.Model(), t.PromptVersion, t.Provider.SchemaVersion())
	return cache.Key{Fingerprint: fp, SourceLang: t.Doc.Meta.SourceLang, TargetLang: t.Doc.Meta.TargetLang,
		Provider: t.Provider.Name(), Model: t.Provider.Model()}
}

// Translate implements scheduler.TranslateFunc for one batch: the eight
// steps of spec §4.8. attempt > 1 means the scheduler is re-issuing the batch
// after any retriable failure (rate-limited, timeout, transient or invalid
// output); every such retry carries the clarifying appendix.
func (t *Translator) Translate(ctx context.Context, b scheduler.Batch, attempt int) error {
	var modelBound []int64
	for id := b.FromID; id <= b.ToID; id++ {
		e, err := t.Doc.Entry(id)
		if err != nil {
			continue
		}
		if e.HasTranslation() {
			continue
		}
		if t.Cache != nil {
			if hit, ok := t.Cache.Get(ctx, t.cacheKey(e)); ok {
				_ = t.Doc.SetTranslation(id, hit.Translation, false)
				continue
			}
		}
		modelBound = append(modelBound, id)
	}
	if len(modelBound) == 0 {
		return nil // step 2: nothing left to translate, batch is done
	}

	w := window.Build(t.Doc, modelBound[0], modelBound[len(modelBound)-1], t.Sizing)

	sys := composeSystemPrompt(t.Doc.Meta, w, attempt)

	tokens := estimateTokens(t.tokenEstimator(), sys, w)
	if t.Gate != nil {
		if err := t.Gate.Wait(ctx, rate.Ask{Key: t.GateKey, Requests: 1, Tokens: tokens}); err != nil {
			return err
		}
	}

	resp, err := t.Provider.CompleteStructured(ctx, provider.Request{
		System:       sys,
		UserPayload:  w,
		Schema:       translateSchema,
		SchemaName:   "translate_batch",
		MaxOutputTok: tokens * 2,
	})
	if err != nil {
		return err // *provider.Error propagates untouched for the scheduler's retry classification
	}

	var out translateResponse
	if err := json.Unmarshal(resp.Parsed, &out); err != nil {
		return &provider.Error{Code: provider.CodeInvalidOutput, Raw: string(resp.Parsed), Err: err}
	}
	if err := validateIDSet(out, modelBound); err != nil {
		return &provider.Error{Code: provider.CodeInvalidOutput, Raw: string(resp.Parsed), Err: err}
	}

	for _, item := range out.Translations {
		if err := t.Doc.SetTranslation(item.ID, item.Translated, false); err != nil {
			continue
		}
		if t.Cache != nil {
			if e, err := t.Doc.Entry(item.ID); err == nil {
				t.Cache.Put(t.cacheKey(e), e.Original, item.Translated)
			}
		}
	}
	return nil
}

var summaryRefreshSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"summary": {"type": "string"}},
	"required": ["summary"]
}`)

// RefreshSummary submits the most recently translated entries for a
// refreshed one-paragraph rolling summary (spec §4.8 step 8). The
// orchestrator calls this between batches, serialized with respect to
// itself, never from a translation task (spec §5 "Rolling summary is owned
// by the orchestrator").
func RefreshSummary(ctx context.Context, p provider.Provider, doc *model.Document, recent []model.Entry) error {
	type line struct {
		Original   string `json:"original"`
		Translated string `json:"translated"`
	}
	lines := make([]line, 0, len(recent))
	for _, e := range recent {
		lines = append(lines, line{Original: e.Original, Translated: e.Translated})
	}
	resp, err := p.CompleteStructured(ctx, provider.Request{
		System:       "Given the prior summary and these newly translated lines, write a refreshed one-paragraph summary.",
		UserPayload:  map[string]any{"prior_summary": doc.CurrentSummary(), "recent": lines},
		Schema:       summaryRefreshSchema,
		SchemaName:   "summary_refresh",
		MaxOutputTok: 512,
	})
	if err != nil {
		return fmt.Errorf("translate: refresh summary: %w", err)
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(resp.Parsed, &out); err != nil {
		return fmt.Errorf("translate: summary response: %w", err)
	}
	doc.SetSummary(out.Summary)
	return nil
}

func validateIDSet(out translateResponse, modelBound []int64) error {
	if len(out.Translations) != len(modelBound) {
		return fmt.Errorf("translate: expected %d ids, got %d", len(modelBound), len(out.Translations))
	}
	want := make(map[int64]bool, len(modelBound))
	for _, id := range modelBound {
		want[id] = true
	}
	got := make(map[int64]bool, len(out.Translations))
	for _, item := range out.Translations {
		if !want[item.ID] {
			return fmt.Errorf("translate: response contains unexpected id %d", item.ID)
		}
		got[item.ID] = true
	}
	if len(got) != len(want) {
		return fmt.Errorf("translate: response id set does not match model-bound set exactly")
	}
	return nil
}

func composeSystemPrompt(meta model.Metadata, w window.Window, attempt int) string {
	var b []byte
	b = append(b, fmt.Sprintf("Translate subtitle entries from %s to %s.\n", meta.SourceLang, meta.TargetLang)...)
	b = append(b, "Preserve all positional formatting tags verbatim and return translations for exactly the requested ids.\n"...)
	if len(w.Glossary) > 0 {
		terms := make([]string, 0, len(w.Glossary))
		for _, g := range w.Glossary {
			terms = append(terms, fmt.Sprintf("%s -> %s", g.Source, g.Target))
		}
		sort.Strings(terms)
		b = append(b, "Glossary (must be honored):\n"...)
		for _, term := range terms {
			b = append(b, "- "+term+"\n"...)
		}
	}
	if w.PriorSummary != "" {
		b = append(b, "Story so far: "+w.PriorSummary+"\n"...)
	}
	if attempt > 1 {
		b = append(b, "The previous response violated schema translate_batch: respond with exactly the requested JSON shape.\n"...)
	}
	return string(b)
}

func estimateTokens(est *prompt.Estimator, sys string, w window.Window) int {
	payload, _ := json.Marshal(w)
	return est.Estimate(sys) + est.Estimate(string(payload))
}
