// Package analysis implements the Analysis Pass (C7): scene segmentation by
// timing gaps, glossary/character extraction via a structured model call,
// and a one-paragraph summary seed — the context used by the translation
// pass (spec §4.7). It is optional by configuration; a degraded run (empty
// glossary, no scenes) must remain correct.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"subtrans/internal/model"
	"subtrans/internal/provider"
)

// Options configures the pass. Zero values fall back to spec defaults.
type Options struct {
	SceneGapMS    int64 // inter-entry gap that opens a new scene, typical 2000
	SampleSize    int   // bounded sample of entries submitted for glossary extraction
	PromptVersion string
}

func (o Options) effective() Options {
	if o.SceneGapMS <= 0 {
		o.SceneGapMS = 2000
	}
	if o.SampleSize <= 0 {
		o.SampleSize = 80
	}
	if o.PromptVersion == "" {
		o.PromptVersion = "v1"
	}
	return o
}

// DetectScenes is a pure function: a gap between consecutive entries larger
// than gapMS opens a new scene (spec §4.7 "Scene detection"). A short
// document with no large gaps remains a single scene.
func DetectScenes(entries []model.Entry, gapMS int64) []model.Scene {
	if len(entries) == 0 {
		return nil
	}
	if gapMS <= 0 {
		gapMS = 2000
	}
	var scenes []model.Scene
	sceneID := int64(1)
	start := entries[0].ID
	for i := 1; i < len(entries); i++ {
		gap := entries[i].StartMS - entries[i-1].EndMS
		if gap > gapMS {
			scenes = append(scenes, model.Scene{ID: sceneID, StartID: start, EndID: entries[i-1].ID})
			sceneID++
			start = entries[i].ID
		}
	}
	scenes = append(scenes, model.Scene{ID: sceneID, StartID: start, EndID: entries[len(entries)-1].ID})
	return scenes
}

type glossaryTermOut struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

type glossaryResponse struct {
	Terms []glossaryTermOut `json:"terms"`
}

var glossarySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"terms": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"source": {"type": "string"},
					"target": {"type": "string"},
					"kind":   {"type": "string", "enum": ["character", "technical", "idiom", "generic"]}
				},
				"required": ["source", "target", "kind"]
			}
		}
	},
	"required": ["terms"]
}`)

type glossarySample struct {
	Entries []struct {
		ID   int64  `json:"id"`
		Text string `json:"text"`
	} `json:"entries"`
}

// ExtractGlossary submits a bounded sample of entries to the model with a
// schema requesting character names and recurring terms, then merges the
// result into the document's glossary via Propose (so an existing binding
// always wins, per spec §3 "Glossary term").
func ExtractGlossary(ctx context.Context, p provider.Provider, doc *model.Document, opts Options) error {
	opts = opts.effective()
	entries := doc.Entries()
	if len(entries) > opts.SampleSize {
		entries = entries[:opts.SampleSize]
	}
	var sample glossarySample
	for _, e := range entries {
		sample.Entries = append(sample.Entries, struct {
			ID   int64  `json:"id"`
			Text string `json:"text"`
		}{ID: e.ID, Text: e.Original})
	}

	resp, err := p.CompleteStructured(ctx, provider.Request{
		System:       "Extract recurring character names and domain-specific terms from these subtitle lines. Respond only with the requested JSON.",
		UserPayload:  sample,
		Schema:       glossarySchema,
		SchemaName:   "glossary_extraction",
		MaxOutputTok: 1024,
	})
	if err != nil {
		return fmt.Errorf("analysis: extract glossary: %w", err)
	}
	var out glossaryResponse
	if err := json.Unmarshal(resp.Parsed, &out); err != nil {
		return fmt.Errorf("analysis: glossary response: %w", err)
	}
	for _, t := range out.Terms {
		if t.Source == "" || t.Target == "" {
			continue
		}
		doc.Glossary.Propose(model.GlossaryTerm{Source: t.Source, Target: t.Target, Kind: parseKind(t.Kind)})
	}
	return nil
}

func parseKind(s string) model.TermKind {
	switch s {
	case "character":
		return model.TermCharacter
	case "technical":
		return model.TermTechnical
	case "idiom":
		return model.TermIdiom
	default:
		return model.TermGeneric
	}
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

var summarySchema = json.RawMessage(`{
	"type": "object",
	"properties": {"summary": {"type": "string"}},
	"required": ["summary"]
}`)

// SeedSummary requests a one-paragraph summary of the initial scene as the
// rolling summary's starting value (spec §4.7 "Summary seed").
func SeedSummary(ctx context.Context, p provider.Provider, doc *model.Document, firstScene []model.Entry) error {
	var lines []string
	for _, e := range firstScene {
		lines = append(lines, e.Original)
	}
	resp, err := p.CompleteStructured(ctx, provider.Request{
		System:       "Summarize the following opening lines in one short paragraph, to be used as running narrative context.",
		UserPayload:  map[string]any{"lines": lines},
		Schema:       summarySchema,
		SchemaName:   "summary_seed",
		MaxOutputTok: 512,
	})
	if err != nil {
		return fmt.Errorf("analysis: seed summary: %w", err)
	}
	var out summaryResponse
	if err := json.Unmarshal(resp.Parsed, &out); err != nil {
		return fmt.Errorf("analysis: summary response: %w", err)
	}
	doc.SetSummary(out.Summary)
	return nil
}

// Run executes the full pass: scene detection (always, pure), glossary
// extraction and summary seeding (both model calls, each independently
// best-effort — a failure here is non-fatal and simply leaves that piece of
// context empty, per spec §4.6 "analysis pass optional by configuration").
func Run(ctx context.Context, p provider.Provider, doc *model.Document, opts Options) {
	opts = opts.effective()
	entries := doc.Entries()
	scenes := DetectScenes(entries, opts.SceneGapMS)
	doc.AttachScenes(scenes)

	if p == nil {
		return
	}
	_ = ExtractGlossary(ctx, p, doc, opts)

	if len(scenes) > 0 {
		first := scenes[0]
		var firstEntries []model.Entry
		for _, e := range entries {
			if e.ID >= first.StartID && e.ID <= first.EndID {
				firstEntries = append(firstEntries, e)
			}
		}
		_ = SeedSummary(ctx, p, doc, firstEntries)
	}
}
